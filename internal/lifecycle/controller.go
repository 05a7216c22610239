package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/logging"
)

// State 是代理 worker 的生命周期状态。
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
	// StateFailed 表示最近一次安装未能完成预填充，该代际永远不会被激活。
	StateFailed State = "failed"
)

// MessageTypeSkipWaiting 是宿主页面请求立即激活新版本的控制消息。
const MessageTypeSkipWaiting = "SKIP_WAITING"

// ErrNoWaiting 表示当前没有处于 waiting 状态的代际可供激活。
var ErrNoWaiting = errors.New("no waiting generation")

// Message 是宿主页面发来的控制消息。
type Message struct {
	Type string `json:"type"`
}

// Status 是控制器状态快照，供诊断接口输出。
type Status struct {
	State       State     `json:"state"`
	Current     string    `json:"current"`
	Waiting     string    `json:"waiting,omitempty"`
	Installing  string    `json:"installing,omitempty"`
	SkipWaiting bool      `json:"skip_waiting"`
	LastError   string    `json:"last_error,omitempty"`
	InstalledAt time.Time `json:"installed_at,omitzero"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
}

// ControllerOptions 汇总控制器依赖。
type ControllerOptions struct {
	Manager *cache.Manager
	Clients Clients
	Logger  *logrus.Logger
	// SkipWaiting 为 true 时安装完成后立即激活，不等待旧客户端关闭。
	SkipWaiting bool
	// Sync 为后台同步扩展点，按 tag 注册处理函数。
	Sync map[string]SyncFunc
}

// Controller 驱动 install → waiting → activating → active 状态机，
// 并持有唯一的“当前代际”槽位。拦截路径只通过 Current 读取该槽位。
type Controller struct {
	manager     *cache.Manager
	clients     Clients
	logger      *logrus.Logger
	skipDefault bool
	onSync      map[string]SyncFunc

	// transition 串行化安装与激活，保证同一时刻只有一个状态迁移在进行。
	transition sync.Mutex

	mu            sync.RWMutex
	state         State
	current       string
	waiting       string
	installing    string
	skipRequested bool
	lastError     string
	installedAt   time.Time
	activatedAt   time.Time
}

// NewController 校验依赖并构造控制器，初始没有当前代际。
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Manager == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.Clients == nil {
		return nil, errors.New("clients port is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	syncHandlers := map[string]SyncFunc{SyncTagPrayerTimes: logOnlySync(opts.Logger)}
	for tag, fn := range opts.Sync {
		if fn != nil {
			syncHandlers[tag] = fn
		}
	}
	return &Controller{
		manager:     opts.Manager,
		clients:     opts.Clients,
		logger:      opts.Logger,
		skipDefault: opts.SkipWaiting,
		onSync:      syncHandlers,
	}, nil
}

// Current 返回正在服务的代际；尚未激活任何代际时为空字符串。
func (c *Controller) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Status 返回状态快照。
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:       c.state,
		Current:     c.current,
		Waiting:     c.waiting,
		Installing:  c.installing,
		SkipWaiting: c.skipRequested || c.skipDefault,
		LastError:   c.lastError,
		InstalledAt: c.installedAt,
		ActivatedAt: c.activatedAt,
	}
}

// Restore 读取持久化的激活指针；对应代际仍存在时直接恢复为当前代际并接管客户端，
// 使进程重启后即使新版本安装失败也能继续离线服务。
func (c *Controller) Restore(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	active, err := c.manager.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load active generation: %w", err)
	}
	if active == "" {
		return nil
	}
	ok, err := c.manager.HasGeneration(ctx, active)
	if err != nil {
		return fmt.Errorf("check generation %s: %w", active, err)
	}
	if !ok {
		c.logger.WithFields(logging.LifecycleFields("restore", active, string(c.Status().State))).
			Warn("active_generation_missing")
		return nil
	}

	c.mu.Lock()
	c.current = active
	c.state = StateActive
	c.activatedAt = time.Now().UTC()
	c.mu.Unlock()

	if err := c.clients.Claim(ctx, active); err != nil {
		c.logger.WithFields(logging.LifecycleFields("claim", active, string(StateActive))).
			WithError(err).Warn("claim_failed")
	}
	c.logger.WithFields(logging.LifecycleFields("restore", active, string(StateActive))).Info("generation_restored")
	return nil
}

// Install 为 generation 预填充清单。generation 已是当前代际时直接返回；
// 预填充失败时进入 failed 状态，旧代际继续服务。成功后进入 waiting，
// 并按激活规则决定是否立即激活。
func (c *Controller) Install(ctx context.Context, generation string, manifest []string) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if generation == c.Current() {
		c.logger.WithFields(logging.LifecycleFields("install", generation, string(c.Status().State))).
			Info("generation_already_current")
		return nil
	}

	c.setState(StateInstalling, func() {
		c.installing = generation
		c.lastError = ""
	})
	c.logger.WithFields(logging.LifecycleFields("install", generation, string(StateInstalling))).Info("installing")

	if err := c.manager.Populate(ctx, generation, manifest); err != nil {
		c.setState(StateFailed, func() {
			c.installing = ""
			c.lastError = err.Error()
		})
		c.logger.WithFields(logging.LifecycleFields("install", generation, string(StateFailed))).
			WithError(err).Error("install_failed")
		return fmt.Errorf("install %s: %w", generation, err)
	}

	c.setState(StateWaiting, func() {
		c.installing = ""
		c.waiting = generation
		c.installedAt = time.Now().UTC()
	})
	c.logger.WithFields(logging.LifecycleFields("install", generation, string(StateWaiting))).Info("installed")

	c.maybeActivateLocked(ctx, "install")
	return nil
}

// SkipWaiting 记录跳过等待的请求；存在 waiting 代际时立即激活。
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	c.skipRequested = true
	waiting := c.waiting
	c.mu.Unlock()

	c.logger.WithFields(logging.LifecycleFields("skip_waiting", waiting, string(c.Status().State))).Info("skipping_waiting")
	if waiting == "" {
		return nil
	}
	return c.activateLocked(ctx)
}

// Activate 激活 waiting 代际；没有 waiting 代际时返回 ErrNoWaiting。
func (c *Controller) Activate(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	return c.activateLocked(ctx)
}

// ClientsChanged 在客户端关闭或注册后重新评估 waiting 代际能否激活。
func (c *Controller) ClientsChanged(ctx context.Context) {
	c.transition.Lock()
	defer c.transition.Unlock()
	c.maybeActivateLocked(ctx, "clients_changed")
}

// HandleMessage 处理宿主页面的控制消息；未知类型记录后忽略。
func (c *Controller) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageTypeSkipWaiting:
		return c.SkipWaiting(ctx)
	default:
		c.logger.WithFields(logrus.Fields{
			"action":       "message",
			"message_type": msg.Type,
		}).Debug("message_ignored")
		return nil
	}
}

// maybeActivateLocked 在以下任一条件成立时激活 waiting 代际：配置或请求了跳过等待；
// 当前没有代际；当前代际不再控制任何客户端。调用方需持有 transition。
func (c *Controller) maybeActivateLocked(ctx context.Context, reason string) {
	c.mu.RLock()
	waiting := c.waiting
	current := c.current
	skip := c.skipRequested || c.skipDefault
	c.mu.RUnlock()

	if waiting == "" {
		return
	}

	activate := skip || current == ""
	if !activate {
		controlled, err := c.controlledClients(ctx, current)
		if err != nil {
			c.logger.WithFields(logging.LifecycleFields(reason, waiting, string(StateWaiting))).
				WithError(err).Warn("clients_match_failed")
			return
		}
		activate = controlled == 0
		if !activate {
			fields := logging.LifecycleFields(reason, waiting, string(StateWaiting))
			fields["controlled_clients"] = controlled
			c.logger.WithFields(fields).Info("waiting_for_clients")
		}
	}
	if !activate {
		return
	}
	if err := c.activateLocked(ctx); err != nil && !errors.Is(err, ErrNoWaiting) {
		c.logger.WithFields(logging.LifecycleFields(reason, waiting, string(c.Status().State))).
			WithError(err).Error("activate_failed")
	}
}

func (c *Controller) controlledClients(ctx context.Context, generation string) (int, error) {
	clients, err := c.clients.MatchAll(ctx, MatchOptions{IncludeUncontrolled: false})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, client := range clients {
		if client.Controller == generation {
			count++
		}
	}
	return count, nil
}

// activateLocked 切换当前槽位、持久化激活指针、清理旧代际并接管客户端。
// 清理与接管失败只记录日志，不阻止激活完成。
func (c *Controller) activateLocked(ctx context.Context) error {
	c.mu.Lock()
	next := c.waiting
	if next == "" {
		c.mu.Unlock()
		return ErrNoWaiting
	}
	previous := c.current
	c.state = StateActivating
	c.current = next
	c.waiting = ""
	c.skipRequested = false
	c.mu.Unlock()

	c.logger.WithFields(logging.LifecycleFields("activate", next, string(StateActivating))).Info("activating")

	if err := c.manager.SaveActive(ctx, next); err != nil {
		c.logger.WithFields(logging.LifecycleFields("activate", next, string(StateActivating))).
			WithError(err).Warn("active_pointer_save_failed")
	}
	if err := c.manager.Prune(ctx, next); err != nil {
		c.logger.WithFields(logging.LifecycleFields("prune", next, string(StateActivating))).
			WithError(err).Warn("prune_failed")
	}
	if err := c.clients.Claim(ctx, next); err != nil {
		c.logger.WithFields(logging.LifecycleFields("claim", next, string(StateActivating))).
			WithError(err).Warn("claim_failed")
	}

	c.setState(StateActive, func() {
		c.activatedAt = time.Now().UTC()
	})
	if previous != "" {
		fields := logging.LifecycleFields("activate", previous, string(StateRedundant))
		fields["replaced_by"] = next
		c.logger.WithFields(fields).Info("worker_redundant")
	}
	c.logger.WithFields(logging.LifecycleFields("activate", next, string(StateActive))).Info("activated")
	return nil
}

func (c *Controller) setState(state State, mutate func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if mutate != nil {
		mutate()
	}
}
