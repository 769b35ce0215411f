package calls

import (
	"strings"
	"time"

	"github.com/enlaces-epn/callcenter/internal"
	callDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/call"
)

// CreateCallDTO carries the intake form. Field names match the form the
// agents already know.
type CreateCallDTO struct {
	Date            time.Time `json:"fecha"`
	Channel         string    `json:"medio"`
	CustomerName    string    `json:"nombreUsuario"`
	NationalID      string    `json:"cedula"`
	Phone           string    `json:"telefono"`
	Address         string    `json:"direccion"`
	Neighborhood    string    `json:"barrio"`
	ContractAccount string    `json:"cuentaContrato"`
	Category        string    `json:"gestion"`
	OrderClass      string    `json:"claseOrden"`
	WorkOrderNumber string    `json:"numeroOT"`
	Status          string    `json:"estado"`
	Incident        string    `json:"incidencia"`
	Notes           string    `json:"observaciones"`
	AgentName       string    `json:"agente"`
}

// Validate enforces the three mandatory intake fields and the closed select
// options. All offending fields are reported together.
func (d CreateCallDTO) Validate() error {
	var errs []internal.ValidationError

	if strings.TrimSpace(d.CustomerName) == "" {
		errs = append(errs, internal.ValidationError{
			Field:   "nombreUsuario",
			Message: "customer name is required",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if strings.TrimSpace(d.Phone) == "" {
		errs = append(errs, internal.ValidationError{
			Field:   "telefono",
			Message: "phone is required",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if strings.TrimSpace(d.Category) == "" {
		errs = append(errs, internal.ValidationError{
			Field:   "gestion",
			Message: "category is required",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	} else if !callDatamodel.ValidCategory(d.Category) {
		errs = append(errs, internal.ValidationError{
			Field:   "gestion",
			Message: "unknown category",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if d.Channel != "" && !callDatamodel.ValidChannel(d.Channel) {
		errs = append(errs, internal.ValidationError{
			Field:   "medio",
			Message: "unknown channel",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if !callDatamodel.ValidStatus(d.Status) {
		errs = append(errs, internal.ValidationError{
			Field:   "estado",
			Message: "unknown status",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}

	if len(errs) > 0 {
		return internal.NewValidationFieldsError(errs)
	}
	return nil
}

// Period selects the report window.
type Period string

const (
	PeriodCurrentMonth Period = "mes_actual"
	PeriodCurrentWeek  Period = "semana_actual"
	PeriodCustom       Period = "personalizado"
)

// ListFilters narrows the call list and the reports. Zero values mean "no
// filter"; the text filters match the way the table does (substring for
// search and agent, exact for the selects).
type ListFilters struct {
	Search    string     `json:"search,omitempty"`
	Category  string     `json:"gestion,omitempty"`
	Status    string     `json:"estado,omitempty"`
	Channel   string     `json:"medio,omitempty"`
	AgentName string     `json:"agente,omitempty"`
	Period    Period     `json:"periodo,omitempty"`
	DateFrom  *time.Time `json:"fechaInicio,omitempty"`
	DateTo    *time.Time `json:"fechaFin,omitempty"`
}

// window resolves the filter's period to a concrete interval. The zero
// interval means no date restriction.
func (f ListFilters) window(now time.Time) (time.Time, time.Time) {
	switch f.Period {
	case PeriodCurrentMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	case PeriodCurrentWeek:
		// weeks start on Monday
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7).Add(-time.Nanosecond)
	default:
		var from, to time.Time
		if f.DateFrom != nil {
			from = *f.DateFrom
		}
		if f.DateTo != nil {
			to = *f.DateTo
		}
		return from, to
	}
}

func (f ListFilters) matches(rec callDatamodel.Record, now time.Time) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(rec.CustomerName), needle) &&
			!strings.Contains(rec.Phone, f.Search) &&
			!strings.Contains(rec.NationalID, f.Search) &&
			!strings.Contains(strings.ToLower(rec.WorkOrderNumber), needle) &&
			!strings.Contains(strings.ToLower(rec.Notes), needle) {
			return false
		}
	}
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Channel != "" && rec.Channel != f.Channel {
		return false
	}
	if f.AgentName != "" && !strings.Contains(strings.ToLower(rec.AgentName), strings.ToLower(f.AgentName)) {
		return false
	}

	from, to := f.window(now)
	if !from.IsZero() && rec.Date.Before(from) {
		return false
	}
	if !to.IsZero() && rec.Date.After(to) {
		return false
	}
	return true
}
