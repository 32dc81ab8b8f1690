package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromUnwrapsChain(t *testing.T) {
	base := errors.New("no such chat")
	err := fmt.Errorf("get: %w", NotFound("chat_not_found", base))

	ae := From(err)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, "chat_not_found", ae.Code)
	assert.ErrorIs(t, ae, base)
}

func TestFromDefaultsTo500(t *testing.T) {
	ae := From(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
	assert.Nil(t, From(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "bad_vote", BadRequest("bad_vote", nil).Error())
	assert.Equal(t, "api error (502)", New(http.StatusBadGateway, "", nil).Error())
}
