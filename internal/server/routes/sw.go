package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/lifecycle"
	"github.com/any-hub/offline-agent/internal/platform"
	"github.com/any-hub/offline-agent/internal/server"
	"github.com/any-hub/offline-agent/internal/version"
)

// ControlDeps 汇总 /-/sw 控制面需要的组件。
type ControlDeps struct {
	Controller *lifecycle.Controller
	Dispatcher *lifecycle.Dispatcher
	Clients    *platform.ClientRegistry
	Notifier   *platform.LogNotifier
	Manager    *cache.Manager
	Logger     *logrus.Logger
}

func (d ControlDeps) validate() error {
	switch {
	case d.Controller == nil:
		return errors.New("controller is required")
	case d.Dispatcher == nil:
		return errors.New("dispatcher is required")
	case d.Clients == nil:
		return errors.New("client registry is required")
	case d.Notifier == nil:
		return errors.New("notifier is required")
	case d.Manager == nil:
		return errors.New("cache manager is required")
	case d.Logger == nil:
		return errors.New("logger is required")
	}
	return nil
}

// RegisterControlRoutes 暴露宿主页面的控制接口（消息、推送、通知点击、客户端窗口）
// 与 /-/sw/status 诊断接口。
func RegisterControlRoutes(app *fiber.App, deps ControlDeps) error {
	if app == nil {
		return errors.New("fiber app is required")
	}
	if err := deps.validate(); err != nil {
		return err
	}
	h := &controlHandlers{deps: deps}

	group := app.Group(server.DiagnosticsPrefix + "sw")
	group.Post("/message", h.message)
	group.Post("/push", h.push)
	group.Post("/notificationclick", h.notificationClick)
	group.Post("/notificationclose", h.notificationClose)
	group.Post("/sync", h.sync)
	group.Get("/clients", h.listClients)
	group.Post("/clients", h.registerClient)
	group.Delete("/clients/:id", h.unregisterClient)
	group.Get("/notifications", h.listNotifications)
	group.Get("/status", h.status)
	return nil
}

type controlHandlers struct {
	deps ControlDeps
}

type tagPayload struct {
	Tag string `json:"tag"`
}

type statusPayload struct {
	lifecycle.Status
	Generations []string `json:"generations"`
	Clients     int      `json:"clients"`
	Version     string   `json:"version"`
}

func (h *controlHandlers) message(c fiber.Ctx) error {
	var msg lifecycle.Message
	if err := decodeBody(c, &msg); err != nil {
		return h.reject(c, "message", err, "invalid_message")
	}
	if err := h.deps.Controller.HandleMessage(requestContext(c), msg); err != nil {
		return h.fail(c, "message", err, "message_failed")
	}
	return accepted(c)
}

func (h *controlHandlers) push(c fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	if err := h.deps.Dispatcher.Push(requestContext(c), payload); err != nil {
		return h.fail(c, "push", err, "push_failed")
	}
	return accepted(c)
}

func (h *controlHandlers) notificationClick(c fiber.Ctx) error {
	var click lifecycle.Click
	if err := decodeBody(c, &click); err != nil {
		return h.reject(c, "notification_click", err, "invalid_click")
	}
	if err := h.deps.Dispatcher.Click(requestContext(c), click); err != nil {
		return h.fail(c, "notification_click", err, "click_failed")
	}
	return accepted(c)
}

func (h *controlHandlers) notificationClose(c fiber.Ctx) error {
	var payload tagPayload
	if err := decodeBody(c, &payload); err != nil {
		return h.reject(c, "notification_close", err, "invalid_close")
	}
	if err := h.deps.Dispatcher.Close(requestContext(c), payload.Tag); err != nil {
		return h.fail(c, "notification_close", err, "close_failed")
	}
	return accepted(c)
}

func (h *controlHandlers) sync(c fiber.Ctx) error {
	var payload tagPayload
	if err := decodeBody(c, &payload); err != nil {
		return h.reject(c, "sync", err, "invalid_sync")
	}
	tag := strings.TrimSpace(payload.Tag)
	if tag == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sync_tag_required"})
	}
	if err := h.deps.Controller.HandleSync(requestContext(c), tag); err != nil {
		return h.fail(c, "sync", err, "sync_failed")
	}
	return accepted(c)
}

func (h *controlHandlers) listClients(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"clients": h.deps.Clients.List()})
}

func (h *controlHandlers) registerClient(c fiber.Ctx) error {
	var info lifecycle.ClientInfo
	if err := decodeBody(c, &info); err != nil {
		return h.reject(c, "client_register", err, "invalid_client")
	}
	registered, err := h.deps.Clients.Register(info)
	if err != nil {
		return h.reject(c, "client_register", err, "invalid_client")
	}
	h.deps.Controller.ClientsChanged(requestContext(c))
	return c.Status(fiber.StatusCreated).JSON(registered)
}

func (h *controlHandlers) unregisterClient(c fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_id_required"})
	}
	if !h.deps.Clients.Unregister(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
	}
	h.deps.Controller.ClientsChanged(requestContext(c))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *controlHandlers) listNotifications(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"notifications": h.deps.Notifier.Active()})
}

func (h *controlHandlers) status(c fiber.Ctx) error {
	generations, err := h.deps.Manager.Generations(requestContext(c))
	if err != nil {
		return h.fail(c, "status", err, "status_failed")
	}
	return c.JSON(statusPayload{
		Status:      h.deps.Controller.Status(),
		Generations: generations,
		Clients:     len(h.deps.Clients.List()),
		Version:     version.Full(),
	})
}

func (h *controlHandlers) reject(c fiber.Ctx, action string, err error, code string) error {
	h.deps.Logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).WithError(err).Warn(code)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}

func (h *controlHandlers) fail(c fiber.Ctx, action string, err error, code string) error {
	h.deps.Logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).WithError(err).Error(code)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}

func accepted(c fiber.Ctx) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// decodeBody 解析 JSON 请求体；空请求体视为零值。
func decodeBody(c fiber.Ctx, v any) error {
	body := c.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
