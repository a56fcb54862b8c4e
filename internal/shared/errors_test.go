package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindAndMessage(t *testing.T) {
	err := E(KindConflict, "تعارض", "Conflict")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsKind(err, KindConflict))
	assert.False(t, IsKind(err, KindValidation))
	assert.Equal(t, "تعارض", UserMessage(err, LangArabic))
	assert.Equal(t, "Conflict", UserMessage(err, LangEnglish))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindDependency, cause, "خطأ", "Error")
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindDependency, KindOf(err))
}

func TestKindOfUnknownError(t *testing.T) {
	assert.Equal(t, KindDependency, KindOf(errors.New("plain")))
}

func TestUserMessageHidesDependencyDetails(t *testing.T) {
	msg := UserMessage(errors.New("connection refused"), LangEnglish)
	assert.NotContains(t, msg, "connection refused")
}

func TestTextFallback(t *testing.T) {
	full := Text{Ar: "مرحبا", En: "Hello"}
	assert.Equal(t, "مرحبا", full.In(LangArabic))
	assert.Equal(t, "Hello", full.In(LangEnglish))

	arOnly := Text{Ar: "مرحبا"}
	assert.Equal(t, "مرحبا", arOnly.In(LangEnglish))
}

func TestMatchLang(t *testing.T) {
	assert.Equal(t, LangEnglish, MatchLang("en-US,en;q=0.9"))
	assert.Equal(t, LangArabic, MatchLang("ar-SA"))
	assert.Equal(t, LangArabic, MatchLang(""))
	assert.Equal(t, LangArabic, MatchLang("fr-FR"))
}
