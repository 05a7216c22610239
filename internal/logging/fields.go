package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供方法/URL/代际/缓存结果字段，供拦截请求日志复用。
func RequestFields(method, url, generation, outcome string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"url":        url,
		"generation": generation,
		"outcome":    outcome,
		"cache_hit":  cacheHit,
	}
}

// LifecycleFields 描述生命周期事件（install/activate/message 等）的公共字段。
func LifecycleFields(action, generation, state string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"generation": generation,
		"state":      state,
	}
}
