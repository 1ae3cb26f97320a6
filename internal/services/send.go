package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"crm-inbox/internal/adapters/whatsapp"
	"crm-inbox/internal/conversation"
	"crm-inbox/internal/media"
	"crm-inbox/internal/models"
	"crm-inbox/internal/templates"
)

const (
	kindText     = "text"
	kindTemplate = "template"
	kindMedia    = "media"
	kindEdit     = "edit"
	kindDelete   = "delete"
)

// Sender is the outbound WhatsApp API.
type Sender interface {
	SendMessage(ctx context.Context, req whatsapp.SendMessageRequest) (*whatsapp.SendResponse, error)
	SendMedia(ctx context.Context, req whatsapp.SendMediaRequest) (*whatsapp.SendResponse, error)
	UploadMedia(ctx context.Context, fileName, mimeType string, data []byte) (*whatsapp.UploadMediaResponse, error)
	EditMessage(ctx context.Context, messageID, text string) error
	DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error
}

// MediaUploader stores an attachment and returns a URL the send API can fetch.
type MediaUploader interface {
	Upload(ctx context.Context, ref models.ClientRef, objectID string, p *media.Payload) (string, error)
}

// SendRequest is a text or template message. A set TemplateID selects a template send.
type SendRequest struct {
	Text            string   `json:"text"`
	TemplateID      string   `json:"template_id"`
	Params          []string `json:"params"`
	SenderName      string   `json:"sender_name"`
	DisableFallback bool     `json:"disable_fallback"`
}

// MediaRequest is an attachment given as a data URL.
type MediaRequest struct {
	DataURL    string `json:"data_url"`
	FileName   string `json:"file_name"`
	Caption    string `json:"caption"`
	SenderName string `json:"sender_name"`
}

// SendResult describes a completed send.
type SendResult struct {
	MessageID string                   `json:"message_id"`
	Kind      string                   `json:"kind"`
	FellBack  bool                     `json:"fell_back"`
	Window    conversation.WindowState `json:"window"`
}

// SendService sends, edits and deletes outbound messages while enforcing the messaging window.
type SendService struct {
	inbox    *InboxService
	sender   Sender
	uploader MediaUploader
	audit    AuditRecorder
}

// NewSendService creates a SendService. uploader and audit may be nil; without an uploader
// attachments go through the send API's own upload endpoint.
func NewSendService(inbox *InboxService, sender Sender, uploader MediaUploader, audit AuditRecorder) (*SendService, error) {
	if inbox == nil {
		return nil, fmt.Errorf("inbox service cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	return &SendService{inbox: inbox, sender: sender, uploader: uploader, audit: audit}, nil
}

// Send delivers a text or template message to ref.
func (s *SendService) Send(ctx context.Context, ref models.ClientRef, req SendRequest) (*SendResult, error) {
	view, err := s.inbox.Conversation(ctx, ref)
	if err != nil {
		return nil, err
	}
	client := view.Client
	phoneNumber := s.inbox.resolver.Normalizer().International(client.SendPhone())
	if phoneNumber == "" {
		return nil, fmt.Errorf("client %s: %w", client.Ref, ErrNoPhone)
	}

	base := whatsapp.SendMessageRequest{PhoneNumber: phoneNumber, SenderName: req.SenderName}
	applyRefs(client, &base.LeadID, &base.LegacyLeadID, &base.ContactID)

	if req.TemplateID != "" {
		return s.sendTemplate(ctx, view, base, req)
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if view.Window.Locked {
		s.record(ctx, client.Ref, kindText, "", base, models.SendStatusFailed, nil, ErrWindowClosed)
		return nil, ErrWindowClosed
	}

	base.Message = text
	resp, err := s.sender.SendMessage(ctx, base)
	s.record(ctx, client.Ref, kindText, "", base, statusOf(err), resp, err)
	if err != nil {
		return nil, fmt.Errorf("failed to send message to %s: %w", client.Ref, err)
	}

	log.Info().Str("client", client.Ref.String()).Str("messageId", resp.MessageID).Msg("Text message sent")
	s.afterSend(ctx)
	return &SendResult{MessageID: resp.MessageID, Kind: kindText, Window: view.Window}, nil
}

func (s *SendService) sendTemplate(ctx context.Context, view *ConversationView, base whatsapp.SendMessageRequest, req SendRequest) (*SendResult, error) {
	ref := view.Client.Ref
	catalog, err := s.inbox.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	tmpl, ok := catalog.ByID(req.TemplateID)
	if !ok {
		return nil, fmt.Errorf("template %s: %w", req.TemplateID, ErrNotFound)
	}
	if !tmpl.Active {
		return nil, fmt.Errorf("template %s: %w", tmpl.Name360, ErrTemplateInactive)
	}
	filled, err := templates.Fill(tmpl, req.Params)
	if err != nil {
		return nil, err
	}

	treq := base
	treq.IsTemplate = true
	treq.TemplateID = tmpl.ID
	treq.TemplateName = tmpl.Name360
	treq.TemplateLanguage = tmpl.Language
	treq.Message = filled
	if n := templates.RequiredParams(tmpl); n > 0 {
		treq.TemplateParameters = make([]whatsapp.TemplateParameter, n)
		for i, p := range req.Params {
			treq.TemplateParameters[i] = whatsapp.TemplateParameter{Type: "text", Text: p}
		}
	}

	resp, err := s.sender.SendMessage(ctx, treq)
	if err == nil {
		s.record(ctx, ref, kindTemplate, tmpl.ID, treq, models.SendStatusSent, resp, nil)
		log.Info().Str("client", ref.String()).Str("template", tmpl.Name360).Str("messageId", resp.MessageID).Msg("Template message sent")
		s.afterSend(ctx)
		return &SendResult{MessageID: resp.MessageID, Kind: kindTemplate, Window: view.Window}, nil
	}

	s.record(ctx, ref, kindTemplate, tmpl.ID, treq, models.SendStatusFailed, nil, err)
	if req.DisableFallback || view.Window.Locked {
		return nil, fmt.Errorf("failed to send template %s to %s: %w", tmpl.Name360, ref, err)
	}

	log.Warn().Err(err).Str("client", ref.String()).Str("template", tmpl.Name360).Msg("Template send failed, falling back to plain text")
	text := base
	text.Message = filled
	resp, ferr := s.sender.SendMessage(ctx, text)
	if ferr != nil {
		s.record(ctx, ref, kindText, tmpl.ID, text, models.SendStatusFailed, nil, ferr)
		return nil, fmt.Errorf("failed to send template fallback to %s: %w", ref, ferr)
	}
	s.record(ctx, ref, kindText, tmpl.ID, text, models.SendStatusFallback, resp, nil)
	s.afterSend(ctx)
	return &SendResult{MessageID: resp.MessageID, Kind: kindText, FellBack: true, Window: view.Window}, nil
}

// SendMedia uploads an attachment and sends it to ref.
func (s *SendService) SendMedia(ctx context.Context, ref models.ClientRef, req MediaRequest) (*SendResult, error) {
	view, err := s.inbox.Conversation(ctx, ref)
	if err != nil {
		return nil, err
	}
	client := view.Client
	phoneNumber := s.inbox.resolver.Normalizer().International(client.SendPhone())
	if phoneNumber == "" {
		return nil, fmt.Errorf("client %s: %w", client.Ref, ErrNoPhone)
	}
	if view.Window.Locked {
		return nil, ErrWindowClosed
	}

	payload, err := media.DecodeDataURL(req.DataURL, req.FileName)
	if err != nil {
		return nil, err
	}

	mreq := whatsapp.SendMediaRequest{
		PhoneNumber: phoneNumber,
		MediaType:   payload.Kind(),
		MimeType:    payload.MimeType,
		FileName:    payload.FileName,
		Caption:     strings.TrimSpace(req.Caption),
		SenderName:  req.SenderName,
	}
	applyRefs(client, &mreq.LeadID, &mreq.LegacyLeadID, &mreq.ContactID)

	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, client.Ref, uuid.New().String(), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment: %w", err)
		}
		mreq.MediaURL = url
	} else {
		up, err := s.sender.UploadMedia(ctx, payload.FileName, payload.MimeType, payload.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to upload attachment: %w", err)
		}
		mreq.MediaID = up.MediaID
		mreq.MediaURL = up.URL
	}

	resp, err := s.sender.SendMedia(ctx, mreq)
	s.record(ctx, client.Ref, kindMedia, "", mreq, statusOf(err), resp, err)
	if err != nil {
		return nil, fmt.Errorf("failed to send media to %s: %w", client.Ref, err)
	}

	log.Info().Str("client", client.Ref.String()).Str("mediaType", mreq.MediaType).Str("messageId", resp.MessageID).Msg("Media message sent")
	s.afterSend(ctx)
	return &SendResult{MessageID: resp.MessageID, Kind: kindMedia, Window: view.Window}, nil
}

// Edit changes the text of a sent message.
func (s *SendService) Edit(ctx context.Context, messageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	req := whatsapp.EditMessageRequest{MessageID: messageID, Message: text}
	err := s.sender.EditMessage(ctx, messageID, text)
	s.record(ctx, models.ClientRef{}, kindEdit, "", req, statusOf(err), nil, err)
	if err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	s.afterSend(ctx)
	return nil
}

// Delete removes a sent message, for everyone when forEveryone is set.
func (s *SendService) Delete(ctx context.Context, messageID string, forEveryone bool) error {
	req := whatsapp.DeleteMessageRequest{MessageID: messageID, DeleteForEveryone: forEveryone}
	err := s.sender.DeleteMessage(ctx, messageID, forEveryone)
	s.record(ctx, models.ClientRef{}, kindDelete, "", req, statusOf(err), nil, err)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	s.afterSend(ctx)
	return nil
}

// afterSend polls the list right away so the sent message shows without waiting a tick.
func (s *SendService) afterSend(ctx context.Context) {
	s.inbox.Refresh(ctx)
}

func (s *SendService) record(ctx context.Context, ref models.ClientRef, kind, templateID string, payload interface{}, status string, resp *whatsapp.SendResponse, sendErr error) {
	if s.audit == nil {
		return
	}
	attempt := &models.SendAttempt{
		Kind:       kind,
		TemplateID: templateID,
		Status:     status,
	}
	if !ref.IsZero() {
		attempt.ClientRef = ref.String()
	}
	if b, err := json.Marshal(payload); err == nil {
		attempt.Payload = string(b)
	}
	if resp != nil {
		attempt.ProviderMessageID = resp.MessageID
	}
	if sendErr != nil {
		attempt.LastError = sendErr.Error()
		var apiErr *whatsapp.APIError
		if errors.As(sendErr, &apiErr) {
			attempt.ErrorCode = apiErr.Code
		} else if errors.Is(sendErr, ErrWindowClosed) {
			attempt.ErrorCode = whatsapp.CodeReEngagementRequired
		}
	}
	if err := s.audit.RecordSendAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to record send attempt")
	}
}

func statusOf(err error) string {
	if err != nil {
		return models.SendStatusFailed
	}
	return models.SendStatusSent
}

// applyRefs fills the CRM identifiers the send API stores with the outbound message.
func applyRefs(c models.Client, leadID, legacyID, contactID *string) {
	ref := c.Ref
	if c.IsContact() {
		*contactID = ref.ID
		if c.Ref.Parent == nil {
			return
		}
		ref = *c.Ref.Parent
	}
	switch ref.Kind {
	case models.KindLead:
		*leadID = ref.ID
	case models.KindLegacyLead:
		*legacyID = ref.ID
	}
}
