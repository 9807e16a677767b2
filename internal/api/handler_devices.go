package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/model"
	"device-relay-backend/internal/mw"
	"device-relay-backend/internal/store"
)

const maxActivityLimit = 500

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.relay.DevicesForAdmin(c.Request.Context(), mw.AdminID(c))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list devices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// ownedDevice loads the device record and checks it belongs to the caller.
// It writes the error response itself and returns nil when the caller should stop.
func (h *Handler) ownedDevice(c *gin.Context) *model.Device {
	rec, err := h.store.GetDevice(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.AdminID != mw.AdminID(c)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return nil
	}
	if err != nil {
		h.log.Error().Err(err).Str("device_id", c.Param("id")).Msg("failed to load device")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device"})
		return nil
	}
	return rec
}

// GetDevice handles GET /api/devices/:id.
func (h *Handler) GetDevice(c *gin.Context) {
	rec := h.ownedDevice(c)
	if rec == nil {
		return
	}

	d, err := h.source.Describe(c.Request.Context(), rec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to describe device"})
		return
	}
	if d == nil {
		d = &device.Descriptor{ID: rec.ID, Profile: device.Profile{Name: rec.Name, Model: rec.Model, AndroidVersion: rec.AndroidVersion}, LastSeen: rec.LastSeen}
	}
	_, d.Connected = h.relay.Registration(rec.ID)
	c.JSON(http.StatusOK, d)
}

// GetDeviceActivity handles GET /api/devices/:id/activity?limit=N.
func (h *Handler) GetDeviceActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxActivityLimit)
	}

	rec := h.ownedDevice(c)
	if rec == nil {
		return
	}
	activity, err := h.store.ListActivity(c.Request.Context(), rec.ID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("device_id", rec.ID).Msg("failed to list activity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": activity})
}

// GetPendingCommands handles GET /api/devices/:id/commands/pending.
func (h *Handler) GetPendingCommands(c *gin.Context) {
	rec := h.ownedDevice(c)
	if rec == nil {
		return
	}
	cmds, err := h.store.ListPendingCommands(c.Request.Context(), rec.ID)
	if err != nil {
		h.log.Error().Err(err).Str("device_id", rec.ID).Msg("failed to list pending commands")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve commands"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}

// GetDeviceApps handles GET /api/devices/:id/apps.
func (h *Handler) GetDeviceApps(c *gin.Context) {
	rec := h.ownedDevice(c)
	if rec == nil {
		return
	}
	apps, err := h.source.ListApps(c.Request.Context(), rec.ID)
	if errors.Is(err, device.ErrUnknownDevice) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list apps"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviceId": rec.ID, "apps": apps})
}

// IssueDeviceToken handles POST /api/devices/:id/token. Unknown ids may be
// provisioned ahead of their first registration; ids owned by another admin
// are reported as not found.
func (h *Handler) IssueDeviceToken(c *gin.Context) {
	deviceID := c.Param("id")
	adminID := mw.AdminID(c)

	rec, err := h.store.GetDevice(c.Request.Context(), deviceID)
	switch {
	case err == nil && rec.AdminID != adminID:
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	case err != nil && !errors.Is(err, store.ErrNotFound):
		h.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to load device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device"})
		return
	}

	token, err := h.tokens.IssueToken(adminID, auth.RoleDevice, deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "deviceId": deviceID, "adminId": adminID})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.relay.ConnectionCount()})
}
