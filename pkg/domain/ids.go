package domain

import (
	"github.com/google/uuid"

	dErrors "clearfund/pkg/domain-errors"
)

// Typed IDs keep case, party, obligation, ledger, and report identifiers from
// being swapped for one another at compile time. Construct from external input
// via the Parse helpers; direct casting bypasses validation.
type (
	CaseID       uuid.UUID
	PartyID      uuid.UUID
	ObligationID uuid.UUID
	EntryID      uuid.UUID
	ReportID     uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseCaseID validates and returns a CaseID from external input.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return CaseID{}, err
	}
	return CaseID(u), nil
}

// ParsePartyID validates and returns a PartyID from external input.
func ParsePartyID(s string) (PartyID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return PartyID{}, err
	}
	return PartyID(u), nil
}

// ParseObligationID validates and returns an ObligationID from external input.
func ParseObligationID(s string) (ObligationID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ObligationID{}, err
	}
	return ObligationID(u), nil
}

// ParseEntryID validates and returns an EntryID from external input.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(u), nil
}

// ParseReportID validates and returns a ReportID from external input.
func ParseReportID(s string) (ReportID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ReportID{}, err
	}
	return ReportID(u), nil
}

func (id CaseID) String() string       { return uuid.UUID(id).String() }
func (id PartyID) String() string      { return uuid.UUID(id).String() }
func (id ObligationID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string      { return uuid.UUID(id).String() }
func (id ReportID) String() string     { return uuid.UUID(id).String() }

func (id CaseID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id PartyID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ObligationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ReportID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// NewCaseID returns a freshly generated CaseID.
func NewCaseID() CaseID { return CaseID(uuid.New()) }

// NewPartyID returns a freshly generated PartyID.
func NewPartyID() PartyID { return PartyID(uuid.New()) }

// NewObligationID returns a freshly generated ObligationID.
func NewObligationID() ObligationID { return ObligationID(uuid.New()) }

// NewEntryID returns a freshly generated EntryID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// NewReportID returns a freshly generated ReportID.
func NewReportID() ReportID { return ReportID(uuid.New()) }

// MarshalText renders the ID as its canonical UUID string so typed IDs
// serialize identically to plain UUIDs in JSON payloads.
func (id CaseID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id PartyID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id ObligationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EntryID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id ReportID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *CaseID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = CaseID(u)
	return nil
}

func (id *PartyID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = PartyID(u)
	return nil
}

func (id *ObligationID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = ObligationID(u)
	return nil
}

func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = EntryID(u)
	return nil
}

func (id *ReportID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = ReportID(u)
	return nil
}
