package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_PrefersLoadedFile(t *testing.T) {
	t.Setenv("BILLING_TEST_KEY", "from-os")
	Env = map[string]string{"BILLING_TEST_KEY": "from-file"}
	defer func() { Env = nil }()

	assert.Equal(t, "from-file", GetEnv("BILLING_TEST_KEY", "def"))

	delete(Env, "BILLING_TEST_KEY")
	assert.Equal(t, "from-os", GetEnv("BILLING_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("BILLING_TEST_MISSING", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":     "12",
		"INT_BAD":    "twelve",
		"DUR_OK":     "90s",
		"DUR_BAD":    "soon",
		"LIST":       " whsec_a, ,whsec_b ,",
		"EMPTY_LIST": "",
	}
	defer func() { Env = nil }()

	assert.Equal(t, 12, GetEnvInt("INT_OK", 3))
	assert.Equal(t, 3, GetEnvInt("INT_BAD", 3))
	assert.Equal(t, 3, GetEnvInt("INT_MISSING", 3))
	assert.Equal(t, 90*time.Second, GetEnvDuration("DUR_OK", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("DUR_BAD", time.Minute))
	assert.Equal(t, []string{"whsec_a", "whsec_b"}, GetEnvList("LIST"))
	assert.Nil(t, GetEnvList("EMPTY_LIST"))
}
