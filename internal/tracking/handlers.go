package tracking

import (
	"errors"

	"github.com/agazso/runtracker/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

// Encoder renders a sealed path in a download format such as gpx or kml.
type Encoder func(format string, path SealedPath) (data []byte, contentType, fileName string, err error)

func RegisterRoutes(r fiber.Router, tr *Tracker, encode Encoder, authMiddleware fiber.Handler) {
	r.Get("/state", func(c *fiber.Ctx) error {
		return c.JSON(tr.Snapshot())
	})

	r.Get("/view", func(c *fiber.Ctx) error {
		return c.JSON(tr.View())
	})

	r.Post("/toggle", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(tr.Toggle(c.UserContext()))
	})

	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(tr.Start(c.UserContext()))
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(tr.Stop(c.UserContext()))
	})

	r.Post("/center", authMiddleware, func(c *fiber.Ctx) error {
		state, err := tr.Center(c.UserContext())
		if errors.Is(err, ErrNoGeolocator) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(state)
	})

	r.Put("/region", authMiddleware, func(c *fiber.Ctx) error {
		var req geo.Region
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "latitude/longitude out of range")
		}
		if req.LatDelta <= 0 || req.LngDelta <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "latitudeDelta and longitudeDelta must be positive")
		}
		return c.JSON(tr.SetRegion(req))
	})

	r.Get("/paths", func(c *fiber.Ctx) error {
		return c.JSON(tr.Paths())
	})

	r.Get("/paths/:id", func(c *fiber.Ctx) error {
		path, err := tr.Path(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return c.JSON(path)
	})

	r.Get("/paths/:id/export/:format", func(c *fiber.Ctx) error {
		path, err := tr.Path(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		data, contentType, fileName, err := encode(c.Params("format"), path)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		c.Attachment(fileName)
		c.Set(fiber.HeaderContentType, contentType)
		return c.Send(data)
	})
}
