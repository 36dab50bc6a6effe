package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthlock/healthlock/internal/platform/auth"
)

// Account is implemented by *Patient and *Doctor.
type Account interface {
	Role() auth.Role
	Common() *Base
	Profile() Profile
}

// Base holds the fields shared by both account kinds.
type Base struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Credential auth.Credential `json:"-"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type Patient struct {
	Base
	Phone         string        `json:"phone,omitempty"`
	HealthProfile HealthProfile `json:"healthProfile"`
}

type Doctor struct {
	Base
	Specialization string `json:"specialization,omitempty"`
}

func (p *Patient) Role() auth.Role { return auth.RolePatient }
func (p *Patient) Common() *Base   { return &p.Base }

func (p *Patient) Profile() Profile {
	return Profile{ID: p.ID, Role: auth.RolePatient, Name: p.Name, Email: p.Email, Phone: p.Phone}
}

func (d *Doctor) Role() auth.Role { return auth.RoleDoctor }
func (d *Doctor) Common() *Base   { return &d.Base }

func (d *Doctor) Profile() Profile {
	return Profile{ID: d.ID, Role: auth.RoleDoctor, Name: d.Name, Email: d.Email, Specialization: d.Specialization}
}

// Profile is the self-service view of an account.
type Profile struct {
	ID             uuid.UUID `json:"id"`
	Role           auth.Role `json:"role"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
}

// HealthProfile is the set of observations extracted from a patient's
// reports. Absent observations are nil.
type HealthProfile struct {
	Hemoglobin             *float64   `json:"hemoglobin"`
	Glucose                *float64   `json:"glucose"`
	Cholesterol            *float64   `json:"cholesterol"`
	BMI                    *float64   `json:"bmi"`
	HeartRate              *float64   `json:"heartRate"`
	BloodPressureSystolic  *float64   `json:"bloodPressureSystolic"`
	BloodPressureDiastolic *float64   `json:"bloodPressureDiastolic"`
	LastAnalyzedAt         *time.Time `json:"lastAnalyzedAt"`
	LastReportName         string     `json:"lastReportName"`
}

// Observations is a partial update to a HealthProfile.
type Observations struct {
	Hemoglobin             *float64 `json:"hemoglobin"`
	Glucose                *float64 `json:"glucose"`
	Cholesterol            *float64 `json:"cholesterol"`
	BMI                    *float64 `json:"bmi"`
	HeartRate              *float64 `json:"heartRate"`
	BloodPressureSystolic  *float64 `json:"bloodPressureSystolic"`
	BloodPressureDiastolic *float64 `json:"bloodPressureDiastolic"`
}

func (o Observations) empty() bool {
	return o.Hemoglobin == nil && o.Glucose == nil && o.Cholesterol == nil && o.BMI == nil &&
		o.HeartRate == nil && o.BloodPressureSystolic == nil && o.BloodPressureDiastolic == nil
}

// Merge overwrites the observations present in o and stamps the analysis.
func (h *HealthProfile) Merge(o Observations, reportName string, at time.Time) {
	set := func(dst **float64, v *float64) {
		if v != nil {
			x := *v
			*dst = &x
		}
	}
	set(&h.Hemoglobin, o.Hemoglobin)
	set(&h.Glucose, o.Glucose)
	set(&h.Cholesterol, o.Cholesterol)
	set(&h.BMI, o.BMI)
	set(&h.HeartRate, o.HeartRate)
	set(&h.BloodPressureSystolic, o.BloodPressureSystolic)
	set(&h.BloodPressureDiastolic, o.BloodPressureDiastolic)
	at = at.UTC()
	h.LastAnalyzedAt = &at
	h.LastReportName = reportName
}

// PatientView is what a doctor sees once profile access is approved.
type PatientView struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone"`
	HealthProfile HealthProfile `json:"healthProfile"`
}

func (p *Patient) View() PatientView {
	return PatientView{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone, HealthProfile: p.HealthProfile}
}

// RedirectPath is the frontend landing page for a role.
func RedirectPath(r auth.Role) string {
	if r == auth.RoleDoctor {
		return "/doctor"
	}
	return "/patient"
}
