package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
)

// DeviceStatus is a device together with its newest reading and rule.
type DeviceStatus struct {
	entities.Device
	Latest *entities.Measurement `json:"latest"`
	Rule   *entities.AlertRule   `json:"rule,omitempty"`
}

// RuleRequest is the body of PUT /devices/:code/rule. Omitted bands keep
// their stored value, or the default when the device has no rule yet.
type RuleRequest struct {
	LowWarn    *float64 `json:"low_warn"`
	HighWarn   *float64 `json:"high_warn"`
	LowCrit    *float64 `json:"low_crit"`
	HighCrit   *float64 `json:"high_crit"`
	Hysteresis *float64 `json:"hysteresis"`
}

func (c *Controller) initDeviceRoutes() {
	devices := c.Group.Group("/devices")
	devices.GET("", c.ListDevices)
	devices.GET("/:code", c.GetDevice)
	devices.GET("/:code/rule", c.GetDeviceRule)
	devices.PUT("/:code/rule", c.PutDeviceRule)
	devices.DELETE("/:code/rule", c.DeleteDeviceRule)
}

// ListDevices returns every device with its newest measurement.
func (c *Controller) ListDevices(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	devices, err := c.deps.Devices.List(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list devices", http.StatusInternalServerError)
	}

	out := make([]DeviceStatus, 0, len(devices))
	for i := range devices {
		latest, err := c.deps.Measurements.Latest(reqCtx, devices[i].ID)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to load latest measurement", http.StatusInternalServerError)
		}
		out = append(out, DeviceStatus{Device: devices[i], Latest: latest})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// GetDevice returns one device with its newest measurement and rule.
func (c *Controller) GetDevice(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	device, err := c.deps.Devices.GetByCode(reqCtx, ctx.Param("code"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device", statusFor(err))
	}

	status := DeviceStatus{Device: *device}
	if status.Latest, err = c.deps.Measurements.Latest(reqCtx, device.ID); err != nil {
		return c.HandleError(ctx, err, "Failed to load latest measurement", http.StatusInternalServerError)
	}
	rule, err := c.deps.Rules.GetByDevice(reqCtx, device.ID)
	switch {
	case err == nil:
		status.Rule = rule
	case !errors.Is(err, repository.ErrAlertRuleNotFound):
		return c.HandleError(ctx, err, "Failed to load alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, status)
}

// GetDeviceRule returns the device's alert rule.
func (c *Controller) GetDeviceRule(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	device, err := c.deps.Devices.GetByCode(reqCtx, ctx.Param("code"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device", statusFor(err))
	}
	rule, err := c.deps.Rules.GetByDevice(reqCtx, device.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// PutDeviceRule creates or replaces the device's alert rule.
func (c *Controller) PutDeviceRule(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	device, err := c.deps.Devices.GetByCode(reqCtx, ctx.Param("code"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device", statusFor(err))
	}

	var req RuleRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	rule, err := c.deps.Rules.GetByDevice(reqCtx, device.ID)
	switch {
	case errors.Is(err, repository.ErrAlertRuleNotFound):
		rule = entities.NewDefaultAlertRule(device.ID)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to load alert rule", http.StatusInternalServerError)
	}
	req.apply(rule)
	rule.ID = 0 // upsert keys on device_id

	if err := c.deps.Rules.Upsert(reqCtx, rule); err != nil {
		return c.HandleError(ctx, err, "Failed to save alert rule", statusFor(err))
	}
	c.invalidate(device)
	c.log.Info("alert rule saved",
		logger.String("device", device.Code),
		logger.Float64("low_crit", rule.LowCrit),
		logger.Float64("low_warn", rule.LowWarn),
		logger.Float64("high_warn", rule.HighWarn),
		logger.Float64("high_crit", rule.HighCrit))

	saved, err := c.deps.Rules.GetByDevice(reqCtx, device.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to reload alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, saved)
}

// DeleteDeviceRule removes the rule; the device falls back to its min/max
// bounds.
func (c *Controller) DeleteDeviceRule(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	device, err := c.deps.Devices.GetByCode(reqCtx, ctx.Param("code"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device", statusFor(err))
	}
	if err := c.deps.Rules.Delete(reqCtx, device.ID); err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to delete alert rule", http.StatusInternalServerError)
	}
	c.invalidate(device)
	return ctx.NoContent(http.StatusNoContent)
}

func (c *Controller) invalidate(device *entities.Device) {
	if c.deps.Invalidator != nil {
		c.deps.Invalidator.Invalidate(device)
	}
}

func (r *RuleRequest) apply(rule *entities.AlertRule) {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&rule.LowWarn, r.LowWarn)
	set(&rule.HighWarn, r.HighWarn)
	set(&rule.LowCrit, r.LowCrit)
	set(&rule.HighCrit, r.HighCrit)
	set(&rule.Hysteresis, r.Hysteresis)
}
