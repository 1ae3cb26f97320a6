package whatsapp

// TemplateParameter is one positional template value.
type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendMessageRequest is the body of /api/whatsapp/send-message.
type SendMessageRequest struct {
	PhoneNumber        string              `json:"phoneNumber"`
	Message            string              `json:"message,omitempty"`
	LeadID             string              `json:"leadId,omitempty"`
	LegacyLeadID       string              `json:"legacyId,omitempty"`
	ContactID          string              `json:"contactId,omitempty"`
	SenderName         string              `json:"senderName,omitempty"`
	IsTemplate         bool                `json:"isTemplate,omitempty"`
	TemplateID         string              `json:"templateId,omitempty"`
	TemplateName       string              `json:"templateName,omitempty"`
	TemplateLanguage   string              `json:"templateLanguage,omitempty"`
	TemplateParameters []TemplateParameter `json:"templateParameters,omitempty"`
}

// SendMediaRequest is the body of /api/whatsapp/send-media.
type SendMediaRequest struct {
	PhoneNumber  string `json:"phoneNumber"`
	MediaURL     string `json:"mediaUrl,omitempty"`
	MediaID      string `json:"mediaId,omitempty"`
	MediaType    string `json:"mediaType"`
	MimeType     string `json:"mimeType,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	Caption      string `json:"caption,omitempty"`
	LeadID       string `json:"leadId,omitempty"`
	LegacyLeadID string `json:"legacyId,omitempty"`
	ContactID    string `json:"contactId,omitempty"`
	SenderName   string `json:"senderName,omitempty"`
}

// UploadMediaRequest is the body of /api/whatsapp/upload-media. Data is base64.
type UploadMediaRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// UploadMediaResponse is returned by /api/whatsapp/upload-media.
type UploadMediaResponse struct {
	Success bool   `json:"success"`
	MediaID string `json:"mediaId"`
	URL     string `json:"url"`
}

// EditMessageRequest is the body of /api/whatsapp/edit-message.
type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// DeleteMessageRequest is the body of /api/whatsapp/delete-message.
type DeleteMessageRequest struct {
	MessageID         string `json:"messageId"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
}

// SendResponse is the success body shared by the send endpoints.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Message   string `json:"message,omitempty"`
}

// errorResponse is the body of a rejected request.
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
