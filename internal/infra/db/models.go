package db

import "time"

// CertificateRequestModel holds a request and its current issuance attempt in
// one row, so every step marker is written by the same status CAS.
type CertificateRequestModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	RequesterID      string  `gorm:"index;not null"`
	IssuerID         string  `gorm:"index:idx_certificate_requests_issuer_status;not null"`
	RecipientAddress string  `gorm:"not null"`
	SubjectID        string  `gorm:"not null"`
	Period           int     `gorm:"not null"`
	Category         string  `gorm:"not null"`
	Status           string  `gorm:"index:idx_certificate_requests_issuer_status;not null"`
	Remarks          string  `gorm:"not null;default:''"`
	ContentID        string  `gorm:"not null;default:''"`
	IssuanceFee      *string `gorm:"type:numeric(78,0)"`

	FailedStep   string `gorm:"not null;default:''"`
	FailureKind  string `gorm:"not null;default:''"`
	FailureCause string `gorm:"not null;default:''"`

	AttemptNumber    int     `gorm:"not null;default:0"`
	SourceDigest     string  `gorm:"not null;default:''"`
	ProcessedDigest  string  `gorm:"not null;default:''"`
	AttemptContentID string  `gorm:"not null;default:''"`
	SubmissionRef    string  `gorm:"index;not null;default:''"`
	SignedTx         []byte  `gorm:"type:bytea"`
	AttemptFee       *string `gorm:"type:numeric(78,0)"`
	ReceiptJSON      []byte  `gorm:"type:jsonb"`
	LastError        string  `gorm:"not null;default:''"`
	AttemptUpdatedAt *time.Time

	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index;not null"`
	DecidedAt *time.Time
	IssuedAt  *time.Time
}

func (CertificateRequestModel) TableName() string {
	return "certificate_requests"
}

type DocumentBlobModel struct {
	Digest    string    `gorm:"primaryKey"`
	MediaType string    `gorm:"not null"`
	Size      int64     `gorm:"not null"`
	Data      []byte    `gorm:"type:bytea;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (DocumentBlobModel) TableName() string {
	return "document_blobs"
}

type IssuanceEventModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	RequestID   string    `gorm:"type:uuid;index;not null"`
	Attempt     int       `gorm:"not null"`
	Type        string    `gorm:"not null"`
	ActorID     string    `gorm:"not null;default:''"`
	PayloadJSON []byte    `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (IssuanceEventModel) TableName() string {
	return "issuance_events"
}
