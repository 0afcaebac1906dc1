package archive

import (
	"context"
	"log"

	"github.com/agazso/runtracker/internal/export"
	"github.com/agazso/runtracker/internal/tracking"
)

// Uploader stores encoded files and records them.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	SaveObject(ctx context.Context, deviceID, pathID, url, kind string) (string, error)
}

// ExportSink uploads every sealed path in each configured format.
type ExportSink struct {
	up      Uploader
	formats []export.Format
}

func NewExportSink(up Uploader, formats ...export.Format) *ExportSink {
	if len(formats) == 0 {
		formats = export.Formats
	}
	return &ExportSink{up: up, formats: formats}
}

func (s *ExportSink) PathSealed(ctx context.Context, path tracking.SealedPath) {
	for _, f := range s.formats {
		// no FIT activity for a path without fixes
		if f == export.FormatFIT && len(path.Fixes) == 0 {
			continue
		}
		data, err := export.Encode(f, path)
		if err != nil {
			log.Printf("[ERROR] encode %s for %s: %v", f, path.ID, err)
			continue
		}
		url, err := s.up.Upload(ctx, path.DeviceID+"/"+f.FileName(path.ID), f.ContentType(), data)
		if err != nil {
			log.Printf("[ERROR] upload %s for %s: %v", f, path.ID, err)
			continue
		}
		if _, err := s.up.SaveObject(ctx, path.DeviceID, path.ID, url, string(f)); err != nil {
			log.Printf("[ERROR] record %s for %s: %v", f, path.ID, err)
		}
	}
}
