package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
)

// AttachmentTaskPayload points at an uploaded message attachment.
type AttachmentTaskPayload struct {
	ObjectKey string `json:"object_key"`
	MimeType  string `json:"mime_type"`
}

// Resizable reports whether the attachment task can normalise this type.
// Formats are re-encoded as they came so the stored MIME type stays true.
func Resizable(mimeType string) bool {
	return mimeType == "image/jpeg" || mimeType == "image/png"
}

func NewAttachmentTask(payload AttachmentTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachment task payload: %w", err)
	}
	return asynq.NewTask(TypeAttachmentProcess, data, asynq.Queue(QueueImages), asynq.MaxRetry(3)), nil
}

func (p *TaskProcessor) HandleAttachmentProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload AttachmentTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal attachment task payload: %v: %w", err, asynq.SkipRetry)
	}
	if !Resizable(payload.MimeType) {
		logger.Debugf("Attachment %s (%s) needs no processing", payload.ObjectKey, payload.MimeType)
		return nil
	}

	data, _, err := p.storage.GetObject(ctx, payload.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to download attachment: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.Warnf("Attachment %s is not a decodable image: %v", payload.ObjectKey, err)
		return fmt.Errorf("corrupt image %s: %w", payload.ObjectKey, asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	w, h := uint(img.Bounds().Dx()), uint(img.Bounds().Dy())
	if maxDim == 0 || (w <= maxDim && h <= maxDim) {
		return nil
	}

	resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	var buf bytes.Buffer
	contentType := payload.MimeType
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
		contentType = "image/png"
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
		contentType = "image/jpeg"
	}
	if err != nil {
		return fmt.Errorf("failed to re-encode %s: %w", payload.ObjectKey, err)
	}

	if err := p.storage.PutObject(ctx, payload.ObjectKey, buf.Bytes(), contentType); err != nil {
		return fmt.Errorf("failed to upload resized attachment: %w", err)
	}
	logger.Infof("Resized attachment %s from %dx%d to %dx%d", payload.ObjectKey, w, h,
		resized.Bounds().Dx(), resized.Bounds().Dy())
	return nil
}
