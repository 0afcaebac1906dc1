package archive

import (
	"errors"

	"github.com/agazso/runtracker/internal/tracking"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, store *Store) {
	r.Get("/paths", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultListLimit)
		if limit < 1 || limit > 500 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
		}
		paths, err := store.List(c.UserContext(), c.Query("device_id"), limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(paths)
	})

	r.Get("/paths/:id", func(c *fiber.Ctx) error {
		path, err := store.Get(c.UserContext(), c.Params("id"))
		if errors.Is(err, tracking.ErrPathNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(path)
	})
}
