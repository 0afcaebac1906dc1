package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the runner account routes. When deviceID is set every
// runner is paired with that device: registration defaults to it and rejects
// any other, and runners paired elsewhere cannot log in or refresh.
func RegisterRoutes(r fiber.Router, svc *Service, deviceID string) {
	pairedElsewhere := func(runnerDevice string) bool {
		return deviceID != "" && runnerDevice != deviceID
	}

	r.Post("/register", func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if req.DeviceID == "" {
			req.DeviceID = deviceID
		}
		if pairedElsewhere(req.DeviceID) {
			return fiber.NewError(fiber.StatusForbidden, "this tracker only pairs with device "+deviceID)
		}

		runner, tokens, err := svc.Register(c.UserContext(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"runner": runner, "tokens": tokens})
	})

	r.Post("/login", func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "email and password required")
		}
		runner, err := svc.Authenticate(c.UserContext(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, ErrInvalidCredentials.Error())
		}
		if pairedElsewhere(runner.DeviceID) {
			return fiber.NewError(fiber.StatusForbidden, "runner is paired with another device")
		}

		tokens, err := svc.GenerateTokens(c.UserContext(), runner.ID, runner.DeviceID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(tokens)
	})

	r.Post("/refresh", func(c *fiber.Ctx) error {
		var req RefreshRequest
		if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "refresh_token required")
		}

		claims, err := svc.ValidateRefreshToken(c.UserContext(), req.RefreshToken)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		if pairedElsewhere(claims.DeviceID) {
			return fiber.NewError(fiber.StatusForbidden, "runner is paired with another device")
		}

		resp, err := svc.GenerateTokens(c.UserContext(), claims.RunnerID, claims.DeviceID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(resp)
	})

	r.Get("/jwt/verify", func(c *fiber.Ctx) error {
		token := parseBearer(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := svc.ValidateAccessToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(fiber.Map{
			"runner_id": claims.RunnerID,
			"device_id": claims.DeviceID,
			"paired":    !pairedElsewhere(claims.DeviceID),
		})
	})
}

func parseBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
