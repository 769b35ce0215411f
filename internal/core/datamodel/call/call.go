package call

import "time"

// Record is one logged customer-service contact, stored at calls/{id}. The
// JSON field names match the deployed database so existing data keeps
// loading.
type Record struct {
	ID              string    `json:"id"`
	Date            time.Time `json:"fecha"`
	Channel         string    `json:"medio"`
	CustomerName    string    `json:"nombreUsuario"`
	NationalID      string    `json:"cedula,omitempty"`
	Phone           string    `json:"telefono"`
	Address         string    `json:"direccion,omitempty"`
	Neighborhood    string    `json:"barrio,omitempty"`
	ContractAccount string    `json:"cuentaContrato,omitempty"`
	Category        string    `json:"gestion"`
	OrderClass      string    `json:"claseOrden,omitempty"`
	WorkOrderNumber string    `json:"numeroOT,omitempty"`
	Status          string    `json:"estado,omitempty"`
	Incident        string    `json:"incidencia,omitempty"`
	Notes           string    `json:"observaciones,omitempty"`
	AgentName       string    `json:"agente"`
	CreatedAt       time.Time `json:"createdAt"`
	CreatedBy       string    `json:"createdBy"`
}

// Option sets offered by the intake form.
var (
	Channels = []string{"LLAMADA", "PRESENCIAL", "EMAIL", "WHATSAPP", "CHAT"}

	Categories = []string{
		"INFORMACION",
		"ACUEDUCTO",
		"RECLAMO",
		"SOLICITUD",
		"CORTE",
		"RECONEXION",
		"ENERGIA",
		"FACTURACION",
	}

	OrderClasses = []string{
		"CAMBIO MEDIDOR",
		"REPARCHEO ESCOMBROS POR FUGA",
		"SOBRE FACTURA",
		"REVISION MEDIDOR",
		"INSTALACION",
		"REPARACION",
		"RECONEXION SERVICIO",
		"CORTE SERVICIO",
		"MANTENIMIENTO",
		"CONSULTA",
	}

	Statuses = []string{
		"ABIERTO",
		"CERRADO",
		"EN PROCESO",
		"PENDIENTE",
		"RESUELTO",
		"CANCELADO",
	}

	Neighborhoods = []string{
		"CENTRO",
		"SAN VICENTE DE PAUL",
		"VILLA CAFÉ",
		"SANTA LUCIA - LOS CAMBULOS",
		"TENERIFE",
		"ZONA INDUSTRIAL",
		"ALTICO",
		"LAS GRANJAS",
		"CAGUAN",
		"MAIZAL",
	}
)

// ValidChannel and friends guard the closed select options; empty values are
// accepted where the form leaves the field optional.
func ValidChannel(s string) bool  { return contains(Channels, s) }
func ValidCategory(s string) bool { return contains(Categories, s) }
func ValidStatus(s string) bool   { return s == "" || contains(Statuses, s) }

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
