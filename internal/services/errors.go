package services

import (
	"errors"

	"crm-inbox/internal/adapters/whatsapp"
	"crm-inbox/internal/media"
	"crm-inbox/internal/store"
	"crm-inbox/internal/templates"
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrWindowClosed     = whatsapp.ErrWindowClosed
	ErrTemplateParams   = templates.ErrTemplateParams
	ErrNoPhone          = errors.New("client has no phone number")
	ErrEmptyMessage     = errors.New("message text cannot be empty")
	ErrTemplateInactive = errors.New("template is not active")
	ErrInvalidMedia     = media.ErrInvalidPayload
)
