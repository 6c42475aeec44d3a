package mail

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Pipeline status values. The parallel terminal "failed" is reachable from
// any of the others.
const (
	StatusPending   = "pending"
	StatusIngested  = "ingested"
	StatusProcessed = "processed"
	StatusEmbedded  = "embedded"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

func (a Address) String() string {
	if strings.TrimSpace(a.Name) == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

type Attachment struct {
	ID        string `json:"id,omitempty"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	IsInline  bool   `json:"is_inline,omitempty"`
}

// Email is one row per provider message. The provider message id is the
// stable business key; it survives folder moves, unlike the internal id of
// some providers.
type Email struct {
	ID                uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID            uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	FolderID          string    `gorm:"column:folder_id;index" json:"folder_id,omitempty"`
	MessageID         string    `gorm:"column:message_id;not null;uniqueIndex" json:"message_id"`
	ConversationID    string    `gorm:"column:conversation_id;index" json:"conversation_id,omitempty"`
	InternetMessageID string    `gorm:"column:internet_message_id;index" json:"internet_message_id,omitempty"`

	Subject  string `gorm:"column:subject" json:"subject,omitempty"`
	Preview  string `gorm:"column:preview" json:"preview,omitempty"`
	BodyText string `gorm:"column:body_text" json:"body_text,omitempty"`
	BodyHTML string `gorm:"column:body_html" json:"body_html,omitempty"`

	// Enrichment outputs. ProcessedBody and Language are written together;
	// cleanup is atomic with respect to this pair.
	ProcessedBody     string `gorm:"column:processed_body" json:"processed_body,omitempty"`
	Language          string `gorm:"column:language" json:"language,omitempty"`
	TranslatedSubject string `gorm:"column:translated_subject" json:"translated_subject,omitempty"`
	TranslatedBody    string `gorm:"column:translated_body" json:"translated_body,omitempty"`
	SummarizedBody    string `gorm:"column:summarized_body" json:"summarized_body,omitempty"`
	ThreadSummary     string `gorm:"column:thread_summary" json:"thread_summary,omitempty"`

	// BodyFingerprint distinguishes true content changes from metadata-only
	// updates on re-delivery.
	BodyFingerprint string `gorm:"column:body_fingerprint;index" json:"body_fingerprint,omitempty"`

	From    datatypes.JSON `gorm:"column:from_addr;type:jsonb" json:"from,omitempty"`
	ReplyTo datatypes.JSON `gorm:"column:reply_to;type:jsonb" json:"reply_to,omitempty"`
	To      datatypes.JSON `gorm:"column:to_addrs;type:jsonb" json:"to,omitempty"`
	Cc      datatypes.JSON `gorm:"column:cc_addrs;type:jsonb" json:"cc,omitempty"`
	Bcc     datatypes.JSON `gorm:"column:bcc_addrs;type:jsonb" json:"bcc,omitempty"`

	Tags            datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	Attachments     datatypes.JSON `gorm:"column:attachments;type:jsonb" json:"attachments,omitempty"`
	AttachmentCount int            `gorm:"column:attachment_count;not null;default:0" json:"attachment_count"`
	HasAttachments  bool           `gorm:"column:has_attachments;not null;default:false" json:"has_attachments"`

	IsRead  bool `gorm:"column:is_read;not null;default:false" json:"is_read"`
	IsDraft bool `gorm:"column:is_draft;not null;default:false" json:"is_draft"`

	SentAt     *time.Time `gorm:"column:sent_at" json:"sent_at,omitempty"`
	ReceivedAt *time.Time `gorm:"column:received_at;index" json:"received_at,omitempty"`

	PipelineStatus string     `gorm:"column:pipeline_status;not null;default:pending;index" json:"pipeline_status"`
	LastError      string     `gorm:"column:last_error" json:"last_error,omitempty"`
	LastAttemptAt  *time.Time `gorm:"column:last_attempt_at" json:"last_attempt_at,omitempty"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	Points []Point `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"points,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Email) TableName() string { return "emails" }

// ContentBody returns the best available body text for enrichment input,
// preferring plain text over HTML.
func (e *Email) ContentBody() string {
	if strings.TrimSpace(e.BodyText) != "" {
		return e.BodyText
	}
	return e.BodyHTML
}

// EnrichedBody returns the body the embed stage should operate on: the
// translation when one exists, otherwise the cleaned body.
func (e *Email) EnrichedBody() string {
	if strings.TrimSpace(e.TranslatedBody) != "" {
		return e.TranslatedBody
	}
	return e.ProcessedBody
}

// EnrichedSubject mirrors EnrichedBody for the subject line.
func (e *Email) EnrichedSubject() string {
	if strings.TrimSpace(e.TranslatedSubject) != "" {
		return e.TranslatedSubject
	}
	return e.Subject
}

func (e *Email) FromAddress() *Address {
	var a Address
	if len(e.From) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.From, &a); err != nil {
		return nil
	}
	return &a
}

func (e *Email) ToAddresses() []Address  { return decodeAddresses(e.To) }
func (e *Email) CcAddresses() []Address  { return decodeAddresses(e.Cc) }
func (e *Email) BccAddresses() []Address { return decodeAddresses(e.Bcc) }

func (e *Email) TagList() []string {
	if len(e.Tags) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(e.Tags, &out); err != nil {
		return nil
	}
	return out
}

func (e *Email) AttachmentList() []Attachment {
	if len(e.Attachments) == 0 {
		return nil
	}
	var out []Attachment
	if err := json.Unmarshal(e.Attachments, &out); err != nil {
		return nil
	}
	return out
}

func decodeAddresses(raw datatypes.JSON) []Address {
	if len(raw) == 0 {
		return nil
	}
	var out []Address
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Fingerprint hashes a normalized body so metadata-only re-deliveries can be
// told apart from real content changes.
func Fingerprint(body string) string {
	normalized := strings.Join(strings.Fields(body), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func MarshalAddresses(addrs []Address) datatypes.JSON {
	if len(addrs) == 0 {
		return datatypes.JSON("[]")
	}
	raw, err := json.Marshal(addrs)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func MarshalAddress(a *Address) datatypes.JSON {
	if a == nil {
		return nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func MarshalStrings(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON("[]")
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func MarshalAttachments(atts []Attachment) datatypes.JSON {
	if len(atts) == 0 {
		return datatypes.JSON("[]")
	}
	raw, err := json.Marshal(atts)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
