// Package domain defines the persistence models of the recovery workflow:
// declarations, payment receipts, the directories they reference, and the
// audit trail attached to them. These types are mapped with GORM and shared
// by the repository and service layers.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the recovery state of a declaration.
type PaymentState string

const (
	PaymentStateUnset     PaymentState = ""
	PaymentStateDraft     PaymentState = "brouillon"
	PaymentStateRecovered PaymentState = "recouvre"
)

// IsRecovered matches any state spelled with the "recouv" prefix, which
// covers legacy values such as "recouvré".
func (s PaymentState) IsRecovered() bool {
	return strings.HasPrefix(strings.ToLower(string(s)), "recouv")
}

// PaymentStatus is the lifecycle status of a receipt.
type PaymentStatus string

const (
	PaymentStatusDraft     PaymentStatus = "brouillon"
	PaymentStatusValidated PaymentStatus = "validee"
	// PaymentStatusCancelled is recognized when reading but never written.
	PaymentStatusCancelled PaymentStatus = "annule"
)

// IsValidated accepts the legacy spellings found in older records.
func (s PaymentStatus) IsValidated() bool {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "validee", "validated", "valide", "valid":
		return true
	}
	return false
}

// Trace entity types, used as the polymorphic owner of TraceEntry rows.
const (
	TraceDeclarations = "declarations"
	TracePayments     = "payments"
)

// Declaration is one delivery program record.
//
// Year, Month and ProgramNumber are NULL for the unknown reference, which
// exempts NA declarations from the composite unique index: each one is a
// distinct identity.
type Declaration struct {
	ID                 string       `json:"id"                   gorm:"type:char(36);primaryKey"`
	Number             string       `json:"number"               gorm:"type:varchar(32);not null"`
	ProgramReference   string       `json:"program_reference"    gorm:"type:varchar(32);not null;index"`
	Year               *string      `json:"year"                 gorm:"type:varchar(8);uniqueIndex:ux_declaration_program,priority:1"`
	Month              *string      `json:"month"                gorm:"type:varchar(8);uniqueIndex:ux_declaration_program,priority:2"`
	ProgramNumber      *string      `json:"program_number"       gorm:"type:varchar(8);uniqueIndex:ux_declaration_program,priority:3"`
	ChauffeurID        *string      `json:"chauffeur_id"         gorm:"type:char(36);index"`
	ChauffeurName      string       `json:"chauffeur_name"       gorm:"type:varchar(255)"`
	Status             string       `json:"status"               gorm:"type:varchar(32);not null;default:''"`
	Notes              string       `json:"notes"                gorm:"type:text"`
	PaymentState       PaymentState `json:"payment_state"        gorm:"type:varchar(16);not null;default:''"`
	PaymentRecoveredAt *time.Time   `json:"payment_recovered_at"`
	CreatedBy          string       `json:"created_by"           gorm:"type:varchar(64);not null"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`

	Traceability []TraceEntry `json:"traceability" gorm:"polymorphic:Entity;polymorphicValue:declarations"`
}

// TableName returns the database table name for Declaration.
func (Declaration) TableName() string { return "declarations" }

// Ref returns the program reference as a tagged value.
func (d Declaration) Ref() ProgramRef {
	return refFromColumns(d.ProgramReference, d.Year, d.Month, d.ProgramNumber)
}

// SetRef writes r into the component and string columns.
func (d *Declaration) SetRef(r ProgramRef) {
	d.Year, d.Month, d.ProgramNumber = refColumns(r)
	d.ProgramReference = r.String()
	d.Number = r.String()
}

// Payment is one photographed receipt.
//
// A nil ProgramReference means the reference was never entered; NAReference
// means it was explicitly declared unknown.
type Payment struct {
	ID               string          `json:"id"                gorm:"type:char(36);primaryKey"`
	PhotoURL         string          `json:"photo_url"         gorm:"type:text;not null"`
	UploadPending    bool            `json:"upload_pending"    gorm:"not null;default:false"`
	Year             *string         `json:"year"              gorm:"type:varchar(8);index:idx_payment_program,priority:1"`
	Month            *string         `json:"month"             gorm:"type:varchar(8);index:idx_payment_program,priority:2"`
	ProgramNumber    *string         `json:"program_number"    gorm:"type:varchar(8);index:idx_payment_program,priority:3"`
	ProgramReference *string         `json:"program_reference" gorm:"type:varchar(32);index"`
	CompanyID        *string         `json:"company_id"        gorm:"type:char(36);index"`
	CompanyName      string          `json:"company_name"      gorm:"type:varchar(255)"`
	Montant          decimal.Decimal `json:"montant"           gorm:"type:decimal(12,2);not null;default:0"`
	Notes            string          `json:"notes"             gorm:"type:text"`
	Status           PaymentStatus   `json:"status"            gorm:"type:varchar(16);not null;default:'brouillon'"`
	DeclarationID    *string         `json:"declaration_id"    gorm:"type:char(36);index"`
	ChauffeurID      *string         `json:"chauffeur_id"      gorm:"type:char(36);index"`
	CreatedBy        string          `json:"created_by"        gorm:"type:varchar(64);not null;index"`
	CreatedByName    string          `json:"created_by_name"   gorm:"type:varchar(255)"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ValidatedAt      *time.Time      `json:"validated_at"`

	Traceability []TraceEntry `json:"traceability" gorm:"polymorphic:Entity;polymorphicValue:payments"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// Ref returns nil when no reference was entered.
func (p Payment) Ref() *ProgramRef {
	if p.ProgramReference == nil {
		return nil
	}
	r := refFromColumns(*p.ProgramReference, p.Year, p.Month, p.ProgramNumber)
	return &r
}

// SetRef writes r into the component and string columns. A nil r clears them.
func (p *Payment) SetRef(r *ProgramRef) {
	if r == nil {
		p.Year, p.Month, p.ProgramNumber, p.ProgramReference = nil, nil, nil, nil
		return
	}
	p.Year, p.Month, p.ProgramNumber = refColumns(*r)
	s := r.String()
	p.ProgramReference = &s
}

// Company is a customer account referenced by validated receipts.
type Company struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Company.
func (Company) TableName() string { return "companies" }

// Employee types of a chauffeur.
const (
	EmployeeInternal = "interne"
	EmployeeExternal = "externe"
)

// ExternalPrefix marks drivers employed by a third party.
const ExternalPrefix = "TP - "

// Chauffeur is a driver.
type Chauffeur struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	FirstName    string    `json:"first_name"    gorm:"type:varchar(128);not null"`
	LastName     string    `json:"last_name"     gorm:"type:varchar(128);not null"`
	Phone        string    `json:"phone"         gorm:"type:varchar(32)"`
	EmployeeType string    `json:"employee_type" gorm:"type:varchar(16);not null;default:'interne';check:employee_type IN ('interne','externe')"`
	CompanyID    *string   `json:"company_id"    gorm:"type:char(36);index"`
	IsActive     bool      `json:"is_active"     gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Chauffeur.
func (Chauffeur) TableName() string { return "chauffeurs" }

// DisplayName is the name cached on declarations: the name as entered,
// prefixed for external drivers.
func (c Chauffeur) DisplayName() string {
	name := strings.Join(strings.Fields(c.FirstName+" "+c.LastName), " ")
	if c.EmployeeType == EmployeeExternal {
		return ExternalPrefix + name
	}
	return name
}

// TraceEntry is one append-only audit record. Insertion order (ID) is the
// order of the trail.
type TraceEntry struct {
	ID         uint64    `json:"-"         gorm:"primaryKey;autoIncrement"`
	EntityType string    `json:"-"         gorm:"type:varchar(32);not null;index:idx_trace_entity,priority:1"`
	EntityID   string    `json:"-"         gorm:"type:char(36);not null;index:idx_trace_entity,priority:2"`
	UserID     string    `json:"user_id"   gorm:"type:varchar(64);not null"`
	UserName   string    `json:"user_name" gorm:"type:varchar(255)"`
	Action     string    `json:"action"    gorm:"type:varchar(64);not null"`
	Date       time.Time `json:"date"      gorm:"not null"`
}

// TableName returns the database table name for TraceEntry.
func (TraceEntry) TableName() string { return "trace_entries" }

// Notification is a message for a role or a single chauffeur about a
// declaration.
type Notification struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	DeclarationID    string    `json:"declaration_id"    gorm:"type:char(36);not null;index"`
	RecipientRole    string    `json:"recipient_role"    gorm:"type:varchar(32);index"`
	ChauffeurID      *string   `json:"chauffeur_id"      gorm:"type:char(36);index"`
	ProgramReference string    `json:"program_reference" gorm:"type:varchar(32)"`
	Message          string    `json:"message"           gorm:"type:text;not null"`
	Read             bool      `json:"read"              gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
