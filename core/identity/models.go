package identity

import (
	"context"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/campuskit/portal/core"
)

// Role is the closed set of portal actors. It is assigned once at creation
// and never changes.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleFaculty    Role = "FACULTY"
	RoleHod        Role = "HOD"
	RoleSuperadmin Role = "SUPERADMIN"
)

var AllRoles = []Role{RoleStudent, RoleFaculty, RoleHod, RoleSuperadmin}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleHod, RoleSuperadmin:
		return true
	}
	return false
}

// HomePath maps a Role to the path prefix it exclusively owns. An empty
// return means the role is outside the closed set and must be treated as a
// configuration fault by the caller.
func (r Role) HomePath() string {
	switch r {
	case RoleStudent:
		return "/student"
	case RoleFaculty:
		return "/faculty"
	case RoleHod:
		return "/admin"
	case RoleSuperadmin:
		return "/superadmin"
	}
	return ""
}

// Status is the approval state machine gating login:
// Pending -> Approved | Rejected, both terminal.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

func (s Status) Final() bool {
	return s == StatusApproved || s == StatusRejected
}

type Identity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	USN          string    `json:"usn,omitempty"`
	Email        string    `json:"email,omitempty"`
	Semester     string    `json:"semester,omitempty"`
	CollegeName  string    `json:"college_name,omitempty"`
	Department   string    `json:"department,omitempty"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

func (idt *Identity) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	idt.PasswordHash = hash
	return nil
}

func (idt *Identity) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(idt.PasswordHash, []byte(pwd))
}

func (idt *Identity) IsApproved() bool { return idt.Status == StatusApproved }

// Identifier returns the value this Identity logs in with.
func (idt *Identity) Identifier() string {
	if idt.USN != "" {
		return idt.USN
	}
	return idt.Email
}

// NewStudent contains information needed to register a student account.
type NewStudent struct {
	Name        string `json:"name" validate:"required"`
	USN         string `json:"usn" validate:"required,alphanum_"`
	Semester    string `json:"semester" validate:"required"`
	Password    string `json:"password" validate:"required"`
	CollegeName string `json:"college_name" validate:"required"`
	Department  string `json:"department" validate:"required"`
	Email       string `json:"email" validate:"omitempty,email"`
}

func (ns *NewStudent) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	ns.Name = core.CleanString(ns.Name)
	ns.USN = strings.ToUpper(core.CleanString(ns.USN))
	ns.Semester = core.CleanString(ns.Semester)
	ns.CollegeName = core.CleanString(ns.CollegeName)
	ns.Department = core.CleanString(ns.Department)
	ns.Email = core.CleanString(ns.Email, true /* lower */)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ns.USN, ns.Email)
}

// NewHod contains information needed to file an HOD application. The
// resulting account starts out Pending.
type NewHod struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Department  string `json:"department" validate:"required"`
	CollegeName string `json:"college_name" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

func (nh *NewHod) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nh.Name = core.CleanString(nh.Name)
	nh.Email = core.CleanString(nh.Email, true /* lower */)
	nh.Department = core.CleanString(nh.Department)
	nh.CollegeName = core.CleanString(nh.CollegeName)

	if err := validate.Struct(nh); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, "", nh.Email)
}

// NewFaculty contains information an HOD provides to add a faculty member.
// College and department are inherited from the acting HOD.
type NewFaculty struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (nf *NewFaculty) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nf.Name = core.CleanString(nf.Name)
	nf.Email = core.CleanString(nf.Email, true /* lower */)

	if err := validate.Struct(nf); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, "", nf.Email)
}

// QueryFilter applies AND operation on its set fields.
type QueryFilter struct {
	Role   Role
	Status Status
}

func (qf QueryFilter) IsEmpty() bool { return qf.Role == "" && qf.Status == "" }

// InitValidators registers this package's custom validators; must be called
// once at boot after core.InitValidators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(passwordStructValidation, NewStudent{}, NewHod{}, NewFaculty{})

	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdNoCommonTag, pwdNoCommonText)
}
