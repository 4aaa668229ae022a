package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/campuskit/portal/core"
	"github.com/campuskit/portal/core/identity"
	emailsvc "github.com/campuskit/portal/services/email"
	dummydb "github.com/campuskit/portal/storage/database/dummy"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, args ...interface{}) { l.t.Log(msg, args) }
func (l testLogger) Info(msg string, args ...interface{})  { l.t.Log(msg, args) }
func (l testLogger) Warn(msg string, args ...interface{})  { l.t.Log(msg, args) }
func (l testLogger) Error(msg string, args ...interface{}) { l.t.Log(msg, args) }
func (l testLogger) Fatal(msg string, args ...interface{}) { l.t.Fatal(msg, args) }

type testEnv struct {
	server   Server
	session  *sessionManager
	svc      identity.Service
	validate *validator.Validate
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)

	conf := &core.Config{
		Env:      "TEST",
		TestMode: true,
		AppName:  "CampusKit",
		SecretKey: []byte("secret"),
		Server:   core.ServerConfig{JWTExpirationDelta: 10 * time.Minute},
	}
	svc := identity.NewService(dummydb.NewIdentityRepository(db), emailsvc.NewConsoleServiceMock(), conf)
	deps := &ServerDeps{
		Conf:           conf,
		Logger:         testLogger{t},
		IdentitySvc:    svc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	}
	return &testEnv{
		server:   NewServer(deps),
		session:  newSessionManager(conf),
		svc:      svc,
		validate: validate,
	}
}

func (env *testEnv) seedStudent(t *testing.T) identity.Identity {
	data := identity.NewStudent{
		Name: "Asha Rao", USN: "1DS20CS001", Semester: "6",
		Password: "secret123", CollegeName: "X", Department: "CS",
	}
	if err := data.Validate(context.Background(), env.validate, env.svc); err != nil {
		t.Fatalf("NewStudent.Validate() failed: %v", err)
	}
	idt, err := env.svc.RegisterStudent(context.Background(), data)
	if err != nil {
		t.Fatalf("RegisterStudent() failed: %v", err)
	}
	return idt
}

func (env *testEnv) seedHod(t *testing.T) identity.Identity {
	idt, err := env.svc.RegisterHod(context.Background(), identity.NewHod{
		Name: "Dr. H", Email: "h@x.edu", Department: "CS", CollegeName: "X", Password: "Chalkboard7",
	})
	if err != nil {
		t.Fatalf("RegisterHod() failed: %v", err)
	}
	return idt
}

func (env *testEnv) seedSuperadmin(t *testing.T) identity.Identity {
	idt, err := env.svc.EnsureSuperadmin(context.Background(), "Root", "root@campus.test", "NotTheWeakest1!")
	if err != nil {
		t.Fatalf("EnsureSuperadmin() failed: %v", err)
	}
	return idt
}

func (env *testEnv) token(t *testing.T, idt identity.Identity) string {
	token, err := env.session.GenerateToken(env.session.Claims(idt))
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	return token
}

type httpTest struct {
	name         string
	method       string
	path         string
	body         string
	token        string
	wantCode     int
	wantLocation string
	wantBody     string // exact JSON when set
}

func (tt httpTest) run(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tt.token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.token})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, tt.wantCode, rec.Code)
	if tt.wantLocation != "" {
		assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
	}
	if tt.wantBody != "" {
		assert.JSONEq(t, tt.wantBody, rec.Body.String())
	}
	return rec
}

func TestRouteGuard(t *testing.T) {
	env := setup(t)
	student := env.seedStudent(t)
	studentToken := env.token(t, student)

	hod := env.seedHod(t)
	hod.Status = identity.StatusApproved // claims as issued after approval
	hodToken := env.token(t, hod)

	superToken := env.token(t, env.seedSuperadmin(t))

	tests := []httpTest{
		// rule 1: no session, protected path
		{name: "anon dashboard", method: "GET", path: "/dashboard", wantCode: 302, wantLocation: "/login"},
		{name: "anon student", method: "GET", path: "/student", wantCode: 302, wantLocation: "/login"},
		{name: "anon superadmin approvals", method: "GET", path: "/superadmin/approvals", wantCode: 302, wantLocation: "/login"},
		// no session, public path: pass through
		{name: "anon home", method: "GET", path: "/", wantCode: 200},
		// rule 2: session, public path or dashboard
		{name: "student home", method: "GET", path: "/", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "student login page", method: "POST", path: "/login", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "student register", method: "POST", path: "/register/student", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "student dashboard", method: "GET", path: "/dashboard", token: studentToken, wantCode: 302, wantLocation: "/student"},
		// rule 3: session, foreign subtree
		{name: "student in admin", method: "GET", path: "/admin", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "student in faculty", method: "GET", path: "/faculty", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "student in superadmin", method: "GET", path: "/superadmin", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "student in approvals", method: "GET", path: "/superadmin/approvals", token: studentToken, wantCode: 302, wantLocation: "/student"},
		{name: "hod in student", method: "GET", path: "/student", token: hodToken, wantCode: 302, wantLocation: "/admin"},
		{name: "superadmin in admin", method: "GET", path: "/admin", token: superToken, wantCode: 302, wantLocation: "/superadmin"},
		// prefix must be a path boundary, not a string prefix
		{name: "student prefix lookalike", method: "GET", path: "/students", token: studentToken, wantCode: 302, wantLocation: "/student"},
		// rule 4: session, own subtree
		{name: "student home page", method: "GET", path: "/student", token: studentToken, wantCode: 200},
		{name: "hod home page", method: "GET", path: "/admin", token: hodToken, wantCode: 200},
		{name: "superadmin approvals", method: "GET", path: "/superadmin/approvals", token: superToken, wantCode: 200},
		// garbage token counts as no session
		{name: "invalid token protected", method: "GET", path: "/student", token: "not.a.jwt", wantCode: 302, wantLocation: "/login"},
		{name: "invalid token public", method: "GET", path: "/", token: "not.a.jwt", wantCode: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.run(t, env.server) })
	}
}

func TestRouteGuard_unmappedRole(t *testing.T) {
	env := setup(t)
	student := env.seedStudent(t)
	student.Role = "GHOST" // forged token with a role outside the closed set
	token := env.token(t, student)

	rec := httpTest{
		name: "unmapped role", method: "GET", path: "/student", token: token,
		wantCode: 302, wantLocation: "/login",
	}.run(t, env.server)

	// the bad session cookie is cleared
	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value == "" && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "expected the session cookie to be cleared")
}

func TestLogin(t *testing.T) {
	env := setup(t)
	env.seedStudent(t)
	env.seedHod(t) // stays Pending

	t.Run("success", func(t *testing.T) {
		rec := httpTest{
			method: "POST", path: "/login",
			body:     `{"identifier": "1ds20cs001", "password": "secret123"}`,
			wantCode: 200,
		}.run(t, env.server)

		var resp LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshaling LoginResponse: %v", err)
		}
		assert.Equal(t, "/student", resp.Home)
		claims, err := env.session.VerifyToken(resp.Token)
		if err != nil {
			t.Fatalf("VerifyToken() failed: %v", err)
		}
		assert.Equal(t, identity.RoleStudent, claims.Role)
		assert.Equal(t, "1DS20CS001", claims.USN)

		// session cookie set alongside the body token
		var cookieToken string
		for _, cookie := range rec.Result().Cookies() {
			if cookie.Name == sessionCookieName {
				cookieToken = cookie.Value
			}
		}
		assert.Equal(t, resp.Token, cookieToken)
	})

	t.Run("wrong password and unknown identifier are indistinguishable", func(t *testing.T) {
		wrongPwd := httpTest{
			method: "POST", path: "/login",
			body: `{"identifier": "1DS20CS001", "password": "wrongpass"}`,
		}
		unknownIdt := httpTest{
			method: "POST", path: "/login",
			body: `{"identifier": "1DS20CS999", "password": "secret123"}`,
		}
		req1 := httptest.NewRequest(wrongPwd.method, wrongPwd.path, strings.NewReader(wrongPwd.body))
		req1.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec1 := httptest.NewRecorder()
		env.server.ServeHTTP(rec1, req1)

		req2 := httptest.NewRequest(unknownIdt.method, unknownIdt.path, strings.NewReader(unknownIdt.body))
		req2.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec2 := httptest.NewRecorder()
		env.server.ServeHTTP(rec2, req2)

		assert.Equal(t, http.StatusBadRequest, rec1.Code)
		assert.Equal(t, rec1.Code, rec2.Code)
		assert.Equal(t, rec1.Body.String(), rec2.Body.String())
	})

	t.Run("pending account", func(t *testing.T) {
		httpTest{
			method: "POST", path: "/login",
			body:     `{"identifier": "h@x.edu", "password": "Chalkboard7"}`,
			wantCode: 403,
			wantBody: `{"error": "this account is pending approval"}`,
		}.run(t, env.server)
	})

	t.Run("missing fields", func(t *testing.T) {
		httpTest{
			method: "POST", path: "/login",
			body:     `{"identifier": "1DS20CS001"}`,
			wantCode: 400,
			wantBody: `{"password": "this field is required"}`,
		}.run(t, env.server)
	})
}

func TestRegisterStudentAPI(t *testing.T) {
	env := setup(t)

	tests := []httpTest{
		{
			name: "created", method: "POST", path: "/register/student",
			body: `{
				"name": "Asha Rao", "usn": "1ds20cs001", "semester": "6",
				"password": "secret123", "college_name": "X", "department": "CS"
			}`,
			wantCode: 201,
			wantBody: `{"success": true}`,
		},
		{
			name: "duplicate usn", method: "POST", path: "/register/student",
			body: `{
				"name": "Imposter", "usn": "1DS20CS001", "semester": "1",
				"password": "secret456", "college_name": "X", "department": "CS"
			}`,
			wantCode: 400,
			wantBody: `{"usn": "an account with this USN already exists"}`,
		},
		{
			name: "weak password", method: "POST", path: "/register/student",
			body: `{
				"name": "B", "usn": "1DS20CS002", "semester": "1",
				"password": "ab1", "college_name": "X", "department": "CS"
			}`,
			wantCode: 400,
			wantBody: `{"password": "password must contain at least 8 characters"}`,
		},
		{
			name: "missing fields", method: "POST", path: "/register/student",
			body:     `{"name": "B", "usn": "1DS20CS002", "password": "secret123"}`,
			wantCode: 400,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.run(t, env.server) })
	}

	// the created account can log in right away
	httpTest{
		method: "POST", path: "/login",
		body:     `{"identifier": "1DS20CS001", "password": "secret123"}`,
		wantCode: 200,
	}.run(t, env.server)
}

func TestHodApprovalFlowAPI(t *testing.T) {
	env := setup(t)
	superToken := env.token(t, env.seedSuperadmin(t))

	// 1. HOD applies
	httpTest{
		method: "POST", path: "/register/hod",
		body: `{
			"name": "Dr. H", "email": "h@x.edu", "department": "CS",
			"college_name": "X", "password": "Chalkboard7"
		}`,
		wantCode: 201,
		wantBody: `{"success": true}`,
	}.run(t, env.server)

	// 2. login is refused while Pending
	httpTest{
		method: "POST", path: "/login",
		body:     `{"identifier": "h@x.edu", "password": "Chalkboard7"}`,
		wantCode: 403,
		wantBody: `{"error": "this account is pending approval"}`,
	}.run(t, env.server)

	// 3. the application shows up on the superadmin queue
	rec := httpTest{
		method: "GET", path: "/superadmin/approvals", token: superToken,
		wantCode: 200,
	}.run(t, env.server)
	var pending []identity.Identity
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("unmarshaling pending applications: %v", err)
	}
	if !assert.Len(t, pending, 1) {
		t.FailNow()
	}
	hodID := pending[0].ID

	// 4. only a superadmin can decide it
	studentToken := env.token(t, env.seedStudent(t))
	httpTest{
		method: "POST", path: fmt.Sprintf("/superadmin/approvals/%s/approve", hodID),
		token:    studentToken,
		wantCode: 302, wantLocation: "/student",
	}.run(t, env.server)

	// 5. approve; repeating the decision stays a success
	approve := httpTest{
		method: "POST", path: fmt.Sprintf("/superadmin/approvals/%s/approve", hodID),
		token:    superToken,
		wantCode: 200,
		wantBody: `{"success": true}`,
	}
	approve.run(t, env.server)
	approve.run(t, env.server)

	// 6. the HOD can now log in and lands on /admin
	rec = httpTest{
		method: "POST", path: "/login",
		body:     `{"identifier": "h@x.edu", "password": "Chalkboard7"}`,
		wantCode: 200,
	}.run(t, env.server)
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling LoginResponse: %v", err)
	}
	assert.Equal(t, "/admin", resp.Home)

	// 7. the queue is drained
	httpTest{
		method: "GET", path: "/superadmin/approvals", token: superToken,
		wantCode: 200,
		wantBody: `[]`,
	}.run(t, env.server)

	// 8. flipping the decision is refused
	httpTest{
		method: "POST", path: fmt.Sprintf("/superadmin/approvals/%s/reject", hodID),
		token:    superToken,
		wantCode: 400,
		wantBody: `{"error": "this application has already been finalized"}`,
	}.run(t, env.server)
}

func TestRejectHodAPI(t *testing.T) {
	env := setup(t)
	superToken := env.token(t, env.seedSuperadmin(t))
	hod := env.seedHod(t)

	httpTest{
		method: "POST", path: fmt.Sprintf("/superadmin/approvals/%s/reject", hod.ID),
		token:    superToken,
		wantCode: 200,
		wantBody: `{"success": true}`,
	}.run(t, env.server)

	httpTest{
		method: "POST", path: "/login",
		body:     `{"identifier": "h@x.edu", "password": "Chalkboard7"}`,
		wantCode: 403,
		wantBody: `{"error": "this account application has been rejected"}`,
	}.run(t, env.server)

	httpTest{
		method: "POST", path: "/superadmin/approvals/nope/approve",
		token:    superToken,
		wantCode: 404,
		wantBody: `{"error": "not found"}`,
	}.run(t, env.server)
}

func TestAddFacultyAPI(t *testing.T) {
	env := setup(t)
	superToken := env.token(t, env.seedSuperadmin(t))
	hod := env.seedHod(t)

	httpTest{
		method: "POST", path: fmt.Sprintf("/superadmin/approvals/%s/approve", hod.ID),
		token:    superToken,
		wantCode: 200,
	}.run(t, env.server)
	hodToken := env.token(t, identity.Identity{
		ID: hod.ID, Name: hod.Name, Role: hod.Role, Status: identity.StatusApproved, Email: hod.Email,
	})

	httpTest{
		method: "POST", path: "/admin/faculty", token: hodToken,
		body:     `{"name": "Prof. F", "email": "f@x.edu", "password": "Lecture9am"}`,
		wantCode: 201,
		wantBody: `{"success": true}`,
	}.run(t, env.server)

	// inherits the acting HOD's college and department, approved at creation
	rec := httpTest{
		method: "POST", path: "/login",
		body:     `{"identifier": "f@x.edu", "password": "Lecture9am"}`,
		wantCode: 200,
	}.run(t, env.server)
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling LoginResponse: %v", err)
	}
	assert.Equal(t, "/faculty", resp.Home)

	fac, err := env.svc.Authenticate(context.Background(), "f@x.edu", "Lecture9am")
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	assert.Equal(t, "X", fac.CollegeName)
	assert.Equal(t, "CS", fac.Department)

	// a student's session never reaches the handler
	studentToken := env.token(t, env.seedStudent(t))
	httpTest{
		method: "POST", path: "/admin/faculty", token: studentToken,
		body:     `{"name": "N", "email": "n@x.edu", "password": "Lecture9am"}`,
		wantCode: 302, wantLocation: "/student",
	}.run(t, env.server)

	httpTest{
		method: "POST", path: "/admin/faculty", token: hodToken,
		body:     `{"name": "Prof. F", "email": "f@x.edu", "password": "Lecture9am"}`,
		wantCode: 400,
		wantBody: `{"email": "an account with this email already exists"}`,
	}.run(t, env.server)
}
