package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundErrorMessage(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "180f" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"180f"}}).Error())
	assert.Equal(t, `characteristic "2a19" not found in service "180f"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}}).Error())
	assert.Equal(t, `descriptor "2901" not found in characteristic "2a19"`,
		(&NotFoundError{Resource: "descriptor", UUIDs: []string{"2a19", "2901"}}).Error())
}

func TestConnectionErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("%w: link supervision timeout", ErrDisconnected)

	assert.ErrorIs(t, wrapped, ErrDisconnected)
	assert.NotErrorIs(t, wrapped, ErrNotConnected, "different states MUST NOT match")
	assert.ErrorIs(t, &ConnectionError{State: BluetoothOff, Msg: "powered off"}, ErrBluetoothOff, "Msg MUST NOT affect matching")
	assert.True(t, IsConnectionState(wrapped, Disconnected))
	assert.False(t, IsConnectionState(errors.New("disconnected"), Disconnected))

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestDiscoveryAndTransportErrorsUnwrap(t *testing.T) {
	nf := &NotFoundError{Resource: "service", UUIDs: []string{"2f4ce2a3fcbb4f3ab561b9d78b5aae00"}}
	de := &DiscoveryError{Resource: "service", UUID: "2f4ce2a3fcbb4f3ab561b9d78b5aae00", Err: nf}

	var target *NotFoundError
	assert.ErrorAs(t, de, &target)
	assert.Contains(t, de.Error(), "discovery of service")

	te := &TransportError{Op: "read", UUID: "2a19", Err: ErrDisconnected}
	assert.ErrorIs(t, te, ErrDisconnected)
	assert.Equal(t, "read 2a19: disconnected", te.Error())
}

func TestProperties(t *testing.T) {
	ps := ParseProperties("read, WRITE,notify,bogus")

	assert.True(t, ps.Has(PropRead))
	assert.True(t, ps.CanWrite())
	assert.True(t, ps.CanNotify())
	assert.False(t, ps.Has(PropIndicate))
	assert.Equal(t, "read,write,notify", ps.String())

	assert.True(t, ParseProperties("write-without-response").CanWrite())
	assert.True(t, ParseProperties("indicate").CanNotify())
	assert.Empty(t, Properties(0).Names())
}
