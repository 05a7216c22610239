package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.StorageDriver {
	case StorageDriverDisk:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "disk 驱动下不能为空")
		}
	case StorageDriverMemory:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 disk|memory")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(g.Scope), "/") {
		return newFieldError("Global.Scope", "必须以 / 开头")
	}
	if err := validateCacheName(g.CacheName); err != nil {
		return fmt.Errorf("Global.CacheName: %w", err)
	}

	seen := make(map[string]struct{}, len(g.Manifest))
	for i, entry := range g.Manifest {
		if err := validateManifestEntry(entry); err != nil {
			return fmt.Errorf("%s: %w", indexedField("Global.Manifest", i), err)
		}
		if _, dup := seen[entry]; dup {
			return newFieldError(indexedField("Global.Manifest", i), "重复")
		}
		seen[entry] = struct{}{}
	}
	if err := validateManifestEntry(g.FallbackDocument); err != nil {
		return fmt.Errorf("Global.FallbackDocument: %w", err)
	}
	for i, scheme := range g.ExcludedSchemes {
		if scheme == "" || strings.ContainsAny(scheme, ":/ ") {
			return newFieldError(indexedField("Global.ExcludedSchemes", i), "必须为裸 scheme，例如 chrome-extension")
		}
	}

	if g.PopulateConcurrency <= 0 {
		return newFieldError("Global.PopulateConcurrency", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.StoreTimeout.DurationValue() <= 0 {
		return newFieldError("Global.StoreTimeout", "必须大于 0")
	}

	n := c.Notification
	if strings.TrimSpace(n.Title) == "" {
		return newFieldError("Notification.Title", "不能为空")
	}
	for i, v := range n.Vibrate {
		if v < 0 {
			return newFieldError(indexedField("Notification.Vibrate", i), "不能为负数")
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不应包含路径，请使用 Scope: %s", raw)
	}
	return nil
}

func validateCacheName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(name, `/\ `) || strings.HasPrefix(name, ".") {
		return errors.New("只能包含字母、数字、- 与 _ 等文件名安全字符")
	}
	return nil
}

func validateManifestEntry(entry string) error {
	if strings.TrimSpace(entry) == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(entry)
	if err != nil {
		return err
	}
	if parsed.IsAbs() || parsed.Host != "" {
		return errors.New("仅支持同源相对路径")
	}
	return nil
}
