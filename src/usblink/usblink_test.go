package usblink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/stretchr/testify/assert"
)

func TestEffectiveTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, effectiveTimeout(0, 0))
	assert.Equal(t, 10*time.Millisecond, effectiveTimeout(0, 0))
	assert.Equal(t, 50*time.Millisecond, effectiveTimeout(0, 50*time.Millisecond))
	assert.Equal(t, time.Second, effectiveTimeout(time.Second, 50*time.Millisecond))
	assert.Equal(t, DefaultTimeout, effectiveTimeout(-1, -1))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{gousb.ErrorTimeout, inter.ErrTimeout},
		{gousb.ErrorNoDevice, inter.ErrUsbNoDevice},
		{gousb.ErrorNotFound, inter.ErrUsbNotFound},
		{gousb.ErrorBusy, inter.ErrUsbBusy},
		{gousb.ErrorPipe, inter.ErrUsbIO},
		{gousb.TransferTimedOut, inter.ErrTimeout},
		{gousb.TransferCancelled, inter.ErrTimeout},
		{gousb.TransferNoDevice, inter.ErrUsbNoDevice},
		{gousb.TransferStall, inter.ErrUsbIO},
		{context.DeadlineExceeded, inter.ErrTimeout},
		{fmt.Errorf("wrapped: %w", gousb.ErrorBusy), inter.ErrUsbBusy},
		{errors.New("other"), inter.ErrUsbIO},
	}
	for _, c := range cases {
		t.Run(c.in.Error(), func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", c.in), c.want)
		})
	}

	assert.NoError(t, mapError("op", nil))
}

func TestMapError_Codes(t *testing.T) {
	assert.Equal(t, inter.CodeUsbBusy, inter.ErrorCode(mapError("claim", gousb.ErrorBusy)))
	assert.Equal(t, inter.CodeTimeout, inter.ErrorCode(mapError("read", gousb.TransferTimedOut)))
}

func TestCandidate_ReleaseIdempotent(t *testing.T) {
	c := &Candidate{}
	assert.NoError(t, c.release())
	assert.NoError(t, c.release())
	assert.Equal(t, "usb:?", c.Describe())
	assert.ErrorIs(t, c.Open(), inter.ErrUsbNoDevice)
}
