package identity

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/campuskit/portal/core"
)

func Test_validatePassword(t *testing.T) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	newStudent := func(pwd string) NewStudent {
		return NewStudent{
			Name:        "Asha Rao",
			USN:         "1DS20CS001",
			Semester:    "6",
			Password:    pwd,
			CollegeName: "X",
			Department:  "CS",
		}
	}

	tests := []struct {
		name    string
		data    interface{}
		wantTag string
	}{
		{name: "valid", data: newStudent("secret123")},
		{name: "valid mixed", data: newStudent("Chalkboard7")},
		{name: "too short", data: newStudent("ab1"), wantTag: pwdMinLenTag},
		{name: "whitespace", data: newStudent("open sesame"), wantTag: pwdNoSpaceTag},
		{name: "all numeric", data: newStudent("20200101"), wantTag: pwdNotAllNumTag},
		{name: "similar to usn", data: newStudent("1ds20cs001"), wantTag: pwdAttrSimTag},
		{name: "similar to name", data: NewHod{
			Name: "Veronica", Email: "v@x.edu", Department: "CS", CollegeName: "X",
			Password: "veronica1",
		}, wantTag: pwdAttrSimTag},
		{name: "hod valid", data: NewHod{
			Name: "Dr. H", Email: "h@x.edu", Department: "CS", CollegeName: "X",
			Password: "Chalkboard7",
		}},
		{name: "faculty whitespace", data: NewFaculty{
			Name: "Prof. F", Email: "f@x.edu", Password: "bad pass1",
		}, wantTag: pwdNoSpaceTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.data)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				t.Fatalf("Struct() error = %v; want validator.ValidationErrors", err)
			}
			tags := make([]string, 0, len(vErrs))
			for _, vErr := range vErrs {
				tags = append(tags, vErr.Tag())
			}
			assert.Contains(t, tags, tt.wantTag)
		})
	}
}

func Test_validatePassword_commonList(t *testing.T) {
	prev := commonPasswords
	commonPasswords = []string{"iloveyou", "password", "qwerty"}
	defer func() { commonPasswords = prev }()

	sl := newStructLevelRecorder()
	validatePassword("Password", sl, "Asha Rao")
	assert.Equal(t, []string{pwdNoCommonTag}, sl.tags)

	sl = newStructLevelRecorder()
	validatePassword("passwords", sl, "Asha Rao")
	assert.Empty(t, sl.tags)
}

// structLevelRecorder captures reported tags without running a full struct
// validation pass.
type structLevelRecorder struct {
	validator.StructLevel
	tags []string
}

func newStructLevelRecorder() *structLevelRecorder { return &structLevelRecorder{} }

func (sl *structLevelRecorder) ReportError(_ interface{}, _, _, tag, _ string) {
	sl.tags = append(sl.tags, tag)
}
