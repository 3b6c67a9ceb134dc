package attachment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
)

// ErrStorage marks a failure persisting an attachment during the dialog.
var ErrStorage = errors.New("attachment storage failure")

// DefaultExtension is used when the payload carries no usable filename.
const DefaultExtension = ".jpg"

// Collector accumulates attachments for a session in arrival order.
type Collector struct {
	storage Storage
}

// NewCollector wires the collector to a storage backend.
func NewCollector(storage Storage) *Collector {
	return &Collector{storage: storage}
}

// Submit persists payload and appends its reference to the session.
func (c *Collector) Submit(ctx context.Context, session *feedback.Session, payload feedback.Payload) (feedback.AttachmentRef, error) {
	id := uuid.NewString()
	filename := id + extensionOf(payload.Filename)

	location, err := c.storage.Put(ctx, filename, payload.Data)
	if err != nil {
		return feedback.AttachmentRef{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	ref := feedback.AttachmentRef{ID: id, Location: location, Filename: filename}
	session.Attachments = append(session.Attachments, ref)
	return ref, nil
}

// Complete ends photo collection. It performs no I/O and accepts zero attachments.
func (c *Collector) Complete(session *feedback.Session) {
	session.Transition(feedback.StateAwaitingVisitDetails)
}

// Release deletes every referenced payload. Failures are logged, never returned.
func (c *Collector) Release(ctx context.Context, refs []feedback.AttachmentRef) {
	for _, ref := range refs {
		if err := c.storage.Delete(ctx, ref.Location); err != nil {
			log.Printf("[attachment] failed to delete %s: %v", ref.Location, err)
			continue
		}
		log.Printf("[attachment] deleted %s", ref.Location)
	}
}

func extensionOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || ext == "." || strings.ContainsAny(ext, `/\`) {
		return DefaultExtension
	}
	return ext
}
