package identity

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/campuskit/portal/core"
)

var (
	// errors
	ErrNotFound           = errors.New("account not found")
	ErrUSNExists          = errors.New("an account with this USN already exists")
	ErrEmailExists        = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrStatusFinal        = errors.New("this application has already been finalized")
)

// NotApprovedError is returned on authentication against a non-Approved
// account. It carries the current status; unlike the collapsed
// ErrInvalidCredentials it is safe to surface distinctly since it never
// reveals whether a different identifier exists.
type NotApprovedError struct {
	Status Status
}

func (e NotApprovedError) Error() string {
	if e.Status == StatusRejected {
		return "this account application has been rejected"
	}
	return "this account is pending approval"
}

// RequireRole is the single capability gate used by every administrative
// operation: the actor's role must be one of the allowed roles.
func RequireRole(actor Role, allowed ...Role) error {
	for _, role := range allowed {
		if actor == role {
			return nil
		}
	}
	return ErrPermissionDenied
}

type (
	Repository interface {
		// CheckUniqueness fails with ErrUSNExists/ErrEmailExists when another
		// identity already holds the given usn or email. Empty values are skipped.
		CheckUniqueness(ctx context.Context, usn, email string) error
		CreateIdentity(ctx context.Context, idt Identity) (Identity, error)
		GetIdentityByID(ctx context.Context, id string) (Identity, error)
		// GetIdentityByIdentifier matches identifier against USN (case-folded
		// upper) or Email (case-folded lower).
		GetIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error)
		// FilterIdentities applies AND operation on available QueryFilter fields.
		FilterIdentities(ctx context.Context, filter QueryFilter) ([]Identity, error)
		UpdateIdentityStatus(ctx context.Context, id string, status Status) (Identity, error)
		SetIdentityPassword(ctx context.Context, id string, hash []byte) error
	}

	Service interface {
		RegisterStudent(ctx context.Context, ns NewStudent) (Identity, error)
		RegisterHod(ctx context.Context, nh NewHod) (Identity, error)
		AddFaculty(ctx context.Context, actor Identity, nf NewFaculty) (Identity, error)
		Authenticate(ctx context.Context, identifier, password string) (Identity, error)
		Approve(ctx context.Context, actor Role, id string) (Identity, error)
		Reject(ctx context.Context, actor Role, id string) (Identity, error)
		PendingHods(ctx context.Context) ([]Identity, error)
		GetByID(ctx context.Context, id string) (Identity, error)
		EnsureSuperadmin(ctx context.Context, name, email, password string) (Identity, error)
		ResetPassword(ctx context.Context, identifier, password string) error
		CheckUniqueness(ctx context.Context, usn, email string) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, usn, email string) error {
	if err := svc.repo.CheckUniqueness(ctx, usn, email); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUSNExists:
			field = "usn"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// RegisterStudent creates a student account. Students are not gated: the
// account is Approved at creation and can authenticate immediately.
func (svc *service) RegisterStudent(ctx context.Context, ns NewStudent) (Identity, error) {
	idt := Identity{
		Name:        ns.Name,
		Role:        RoleStudent,
		Status:      StatusApproved,
		USN:         ns.USN,
		Email:       ns.Email,
		Semester:    ns.Semester,
		CollegeName: ns.CollegeName,
		Department:  ns.Department,
		CreatedAt:   time.Now().UTC(),
	}
	if err := idt.SetPassword(ns.Password); err != nil {
		return Identity{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateIdentity(ctx, idt)
}

// RegisterHod files an HOD application. The account starts out Pending and
// cannot authenticate until a superadmin approves it.
func (svc *service) RegisterHod(ctx context.Context, nh NewHod) (Identity, error) {
	idt := Identity{
		Name:        nh.Name,
		Role:        RoleHod,
		Status:      StatusPending,
		Email:       nh.Email,
		Department:  nh.Department,
		CollegeName: nh.CollegeName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := idt.SetPassword(nh.Password); err != nil {
		return Identity{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateIdentity(ctx, idt)
}

// AddFaculty creates a faculty account on behalf of the acting HOD. The
// account inherits the HOD's college and department and is Approved at
// creation.
func (svc *service) AddFaculty(ctx context.Context, actor Identity, nf NewFaculty) (Identity, error) {
	if err := RequireRole(actor.Role, RoleHod); err != nil {
		return Identity{}, err
	}
	idt := Identity{
		Name:        nf.Name,
		Role:        RoleFaculty,
		Status:      StatusApproved,
		Email:       nf.Email,
		CollegeName: actor.CollegeName,
		Department:  actor.Department,
		CreatedAt:   time.Now().UTC(),
	}
	if err := idt.SetPassword(nf.Password); err != nil {
		return Identity{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateIdentity(ctx, idt)
}

// Authenticate verifies identifier+password. ErrNotFound and
// ErrInvalidCredentials stay distinct here for logging; the API boundary
// collapses them into one generic message.
func (svc *service) Authenticate(ctx context.Context, identifier, password string) (Identity, error) {
	idt, err := svc.repo.GetIdentityByIdentifier(ctx, core.CleanString(identifier))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Identity{}, ErrNotFound
		}
		return Identity{}, errors.Wrap(err, "finding account by identifier")
	}
	if !idt.IsApproved() {
		return Identity{}, NotApprovedError{Status: idt.Status}
	}
	if err = idt.CheckPassword(password); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return idt, nil
}

func (svc *service) Approve(ctx context.Context, actor Role, id string) (Identity, error) {
	return svc.transition(ctx, actor, id, StatusApproved)
}

func (svc *service) Reject(ctx context.Context, actor Role, id string) (Identity, error) {
	return svc.transition(ctx, actor, id, StatusRejected)
}

// transition moves a Pending application to a terminal status. Re-applying
// the current terminal status is a no-op success; crossing from one terminal
// status to the other is refused.
func (svc *service) transition(ctx context.Context, actor Role, id string, target Status) (Identity, error) {
	if err := RequireRole(actor, RoleSuperadmin); err != nil {
		return Identity{}, err
	}
	idt, err := svc.repo.GetIdentityByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	if idt.Status == target {
		return idt, nil
	}
	if idt.Status.Final() {
		return Identity{}, ErrStatusFinal
	}
	idt, err = svc.repo.UpdateIdentityStatus(ctx, id, target)
	if err != nil {
		return Identity{}, errors.Wrap(err, "updating status")
	}
	svc.sendStatusMail(idt)
	return idt, nil
}

func (svc *service) PendingHods(ctx context.Context) ([]Identity, error) {
	return svc.repo.FilterIdentities(ctx, QueryFilter{Role: RoleHod, Status: StatusPending})
}

func (svc *service) GetByID(ctx context.Context, id string) (Identity, error) {
	return svc.repo.GetIdentityByID(ctx, id)
}

// EnsureSuperadmin is the bootstrap seed: it creates the first superadmin
// account unless one already exists, in which case it is a no-op. Safe to
// invoke on every boot.
func (svc *service) EnsureSuperadmin(ctx context.Context, name, email, password string) (Identity, error) {
	existing, err := svc.repo.FilterIdentities(ctx, QueryFilter{Role: RoleSuperadmin})
	if err != nil {
		return Identity{}, errors.Wrap(err, "checking for existing superadmin")
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	idt := Identity{
		Name:      core.CleanString(name),
		Role:      RoleSuperadmin,
		Status:    StatusApproved,
		Email:     core.CleanString(email, true /* lower */),
		CreatedAt: time.Now().UTC(),
	}
	if err := idt.SetPassword(password); err != nil {
		return Identity{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateIdentity(ctx, idt)
}

func (svc *service) ResetPassword(ctx context.Context, identifier, password string) error {
	idt, err := svc.repo.GetIdentityByIdentifier(ctx, core.CleanString(identifier))
	if err != nil {
		return err
	}
	if err = idt.SetPassword(password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return svc.repo.SetIdentityPassword(ctx, idt.ID, idt.PasswordHash)
}

func (svc *service) sendStatusMail(idt Identity) {
	if svc.mailSvc == nil || idt.Email == "" {
		return
	}
	var body string
	switch idt.Status {
	case StatusApproved:
		body = fmt.Sprintf(
			"Hello %s,\n\nYour %s application for %s (%s) has been approved. You can now log in.",
			idt.Name, idt.Role, idt.CollegeName, idt.Department,
		)
	case StatusRejected:
		body = fmt.Sprintf(
			"Hello %s,\n\nYour %s application for %s (%s) has been rejected.",
			idt.Name, idt.Role, idt.CollegeName, idt.Department,
		)
	default:
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: idt.Name, Address: idt.Email}},
		Subject: "Application " + string(idt.Status),
		BodyStr: body,
	})
}
