package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"go-locate/internal/db"
	"go-locate/internal/inventory"
	"go-locate/internal/macaddr"
	"go-locate/internal/models"
	"go-locate/internal/poller"
	"go-locate/internal/resolver"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templates embed.FS

// Engine returns the template engine for the embedded pages.
func Engine() *html.Engine {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("mac", macaddr.Format)
	return engine
}

type Locator interface {
	Resolve(ctx context.Context, address string) (resolver.Result, error)
}

type CacheClearer interface {
	Clear(ctx context.Context) error
}

type Directory interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	CreateDevice(ctx context.Context, dev *models.Device) error
	DeleteDevice(ctx context.Context, id uint) error
}

// Inventory talks SNMP to a single device from the directory.
type Inventory interface {
	Info(ctx context.Context, id uint) (*inventory.SystemInfo, error)
	UpdateSystem(ctx context.Context, id uint, set inventory.Settings) (*models.Device, error)
	Summary(ctx context.Context) (inventory.Summary, error)
}

type Handler struct {
	Locator   Locator
	Cache     CacheClearer
	Directory Directory
	Inventory Inventory
	Log       *slog.Logger
}

func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/", h.index)
	app.Post("/locate", h.locateForm)
	app.Post("/cache/clear", h.clearForm)

	api := app.Group("/api")
	api.Get("/locate/:address", h.locate)
	api.Post("/cache/clear", h.clearCache)
	api.Get("/devices", h.listDevices)
	api.Post("/devices", h.createDevice)
	api.Delete("/devices/:id", h.deleteDevice)
	api.Get("/devices/summary", h.deviceSummary)
	api.Get("/devices/:id/info", h.deviceInfo)
	api.Put("/devices/:id/snmp", h.updateDeviceSNMP)
}

type deviceView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	Online    bool   `json:"online"`
	Location  string `json:"location,omitempty"`
	System    string `json:"system,omitempty"`
}

func newDeviceView(d models.Device) deviceView {
	return deviceView{
		ID:        d.ID,
		Name:      d.Name,
		IPAddress: d.IPAddress,
		Online:    d.Online,
		Location:  d.Location,
		System:    d.SystemVersion,
	}
}

type locationView struct {
	Address string      `json:"address"`
	MAC     string      `json:"mac,omitempty"`
	Found   bool        `json:"found"`
	Device  *deviceView `json:"device,omitempty"`
	Port    int         `json:"port,omitempty"`
}

type errorView struct {
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

// ---------- PAGES ----------

func (h *Handler) index(c *fiber.Ctx) error {
	return c.Render("locate", fiber.Map{
		"Title":  "Locate",
		"Query":  c.Query("address"),
		"Result": nil,
	})
}

func (h *Handler) locateForm(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.FormValue("address"))
	if query == "" {
		return c.Redirect("/")
	}

	data := fiber.Map{"Title": "Locate " + query, "Query": query}
	res, err := h.Locator.Resolve(c.UserContext(), query)
	if err != nil {
		c.Status(statusFor(err))
		data["Error"] = userMessage(err)
		return c.Render("locate", data)
	}
	data["Result"] = &res
	return c.Render("locate", data)
}

func (h *Handler) clearForm(c *fiber.Ctx) error {
	if err := h.Cache.Clear(c.UserContext()); err != nil {
		h.logger().Error("clear cache", "error", err)
		c.Status(fiber.StatusInternalServerError)
		return c.Render("locate", fiber.Map{"Title": "Locate", "Error": "The cache could not be cleared."})
	}
	return c.Render("locate", fiber.Map{"Title": "Locate", "Cleared": true})
}

// ---------- API ----------

func (h *Handler) locate(c *fiber.Ctx) error {
	res, err := h.Locator.Resolve(c.UserContext(), c.Params("address"))
	if err != nil {
		view := errorView{Error: userMessage(err)}
		var se *resolver.StageError
		if errors.As(err, &se) {
			view.Stage = string(se.Stage)
		}
		return c.Status(statusFor(err)).JSON(view)
	}

	view := locationView{Address: res.Address, MAC: res.MAC, Found: res.Found}
	if res.Found {
		dv := newDeviceView(res.Device)
		view.Device = &dv
		view.Port = res.Port
	}
	return c.JSON(view)
}

func (h *Handler) clearCache(c *fiber.Ctx) error {
	if err := h.Cache.Clear(c.UserContext()); err != nil {
		h.logger().Error("clear cache", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorView{Error: "cache could not be cleared"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) listDevices(c *fiber.Ctx) error {
	devices, err := h.Directory.ListDevices(c.UserContext())
	if err != nil {
		h.logger().Error("list devices", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorView{Error: "devices could not be listed"})
	}
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, newDeviceView(d))
	}
	return c.JSON(views)
}

type deviceRequest struct {
	Name      string `json:"name" form:"name"`
	IPAddress string `json:"ip_address" form:"ip"`
	Location  string `json:"location" form:"location"`
}

func (h *Handler) createDevice(c *fiber.Ctx) error {
	var req deviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorView{Error: "malformed request body"})
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(req.IPAddress))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorView{Error: "ip_address must be a valid IP address"})
	}
	dev := models.Device{
		Name:      strings.TrimSpace(req.Name),
		IPAddress: addr.Unmap().String(),
		Location:  strings.TrimSpace(req.Location),
	}
	if dev.Name == "" {
		dev.Name = dev.IPAddress
	}

	// New devices start offline; the next reachability scan decides.
	if err := h.Directory.CreateDevice(c.UserContext(), &dev); err != nil {
		h.logger().Error("create device", "address", dev.IPAddress, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorView{Error: "device could not be created"})
	}
	h.logger().Info("device added", "id", dev.ID, "address", dev.IPAddress)
	return c.Status(fiber.StatusCreated).JSON(newDeviceView(dev))
}

func (h *Handler) deleteDevice(c *fiber.Ctx) error {
	id, ok := deviceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(errorView{Error: "id must be a positive integer"})
	}
	if err := h.Directory.DeleteDevice(c.UserContext(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorView{Error: "device not found"})
		}
		h.logger().Error("delete device", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorView{Error: "device could not be deleted"})
	}
	h.logger().Info("device removed", "id", id)
	return c.SendStatus(fiber.StatusNoContent)
}

type systemInfoView struct {
	Device      deviceView `json:"device"`
	Description string     `json:"description"`
	ObjectID    string     `json:"object_id,omitempty"`
	UptimeDays  int        `json:"uptime_days"`
	Contact     string     `json:"contact,omitempty"`
	Name        string     `json:"name,omitempty"`
	Location    string     `json:"location,omitempty"`
	Services    int        `json:"services,omitempty"`
	Warnings    []string   `json:"warnings"`
}

func (h *Handler) deviceInfo(c *fiber.Ctx) error {
	id, ok := deviceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(errorView{Error: "id must be a positive integer"})
	}
	info, err := h.Inventory.Info(c.UserContext(), id)
	if err != nil {
		return h.deviceError(c, "device info", id, err)
	}

	warnings := info.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return c.JSON(systemInfoView{
		Device:      newDeviceView(info.Device),
		Description: info.Description,
		ObjectID:    info.ObjectID,
		UptimeDays:  info.UptimeDays,
		Contact:     info.Contact,
		Name:        info.Name,
		Location:    info.Location,
		Services:    info.Services,
		Warnings:    warnings,
	})
}

type snmpSettingsRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Contact  string `json:"contact"`
}

func (h *Handler) updateDeviceSNMP(c *fiber.Ctx) error {
	id, ok := deviceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(errorView{Error: "id must be a positive integer"})
	}
	var req snmpSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorView{Error: "malformed request body"})
	}

	dev, err := h.Inventory.UpdateSystem(c.UserContext(), id, inventory.Settings{
		Name:     req.Name,
		Location: req.Location,
		Contact:  req.Contact,
	})
	if err != nil {
		return h.deviceError(c, "write device settings", id, err)
	}
	return c.JSON(newDeviceView(*dev))
}

type summaryView struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

func (h *Handler) deviceSummary(c *fiber.Ctx) error {
	sum, err := h.Inventory.Summary(c.UserContext())
	if err != nil {
		h.logger().Error("device summary", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorView{Error: "summary could not be built"})
	}
	return c.JSON(summaryView{Total: sum.Total, Online: sum.Online, Offline: sum.Offline})
}

// deviceError maps directory and session failures of a single-device
// request to a status.
func (h *Handler) deviceError(c *fiber.Ctx, op string, id uint, err error) error {
	status, msg := fiber.StatusInternalServerError, "the request failed"
	switch {
	case errors.Is(err, db.ErrNotFound):
		status, msg = fiber.StatusNotFound, "device not found"
	case errors.Is(err, inventory.ErrNoSettings):
		status, msg = fiber.StatusBadRequest, "at least one of name, location or contact is required"
	case errors.Is(err, poller.ErrSessionPermissionDenied):
		status, msg = fiber.StatusForbidden, "the device refused access; check the community's rights"
	case errors.Is(err, poller.ErrSessionTimeout):
		status, msg = fiber.StatusGatewayTimeout, "the device did not respond"
	case errors.Is(err, poller.ErrSessionProtocolError):
		status, msg = fiber.StatusBadGateway, "the device sent an invalid reply"
	}
	if status >= fiber.StatusInternalServerError {
		h.logger().Warn(op, "id", id, "error", err)
	}
	return c.Status(status).JSON(errorView{Error: msg})
}

func deviceID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, resolver.ErrInvalidAddress):
		return fiber.StatusBadRequest
	case errors.Is(err, resolver.ErrTopologyUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, resolver.ErrProbeFailed),
		errors.Is(err, resolver.ErrResolutionAbsent),
		errors.Is(err, macaddr.ErrMalformedAddress):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func userMessage(err error) string {
	var se *resolver.StageError
	if errors.As(err, &se) {
		return se.Message()
	}
	return "The lookup failed."
}
