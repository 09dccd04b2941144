package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	env, err := decodeEnvelope([]byte(`{"type":"message","chatJid":"200@tg","text":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, TypeMessage, env.Type)
	require.Equal(t, "200@tg", env.ChatJID)

	env, err = decodeEnvelope([]byte(`{"type":"register_group","jid":"1@tg","name":"n","folder":"f","trigger":"@t","containerConfig":{"image":"hivebot-agent"}}`))
	require.NoError(t, err)
	require.NotEmpty(t, env.ContainerConfig)

	_, err = decodeEnvelope([]byte(`{"type":"reboot_host"}`))
	require.Error(t, err)

	_, err = decodeEnvelope([]byte(`{"chatJid":"200@tg"}`))
	require.Error(t, err, "missing type")

	_, err = decodeEnvelope([]byte(`{broken`))
	require.Error(t, err)

	// Stray fields are ignored, never a fault.
	env, err = decodeEnvelope([]byte(`{"type":"pause_task","taskId":"t1","sourceGroup":"main"}`))
	require.NoError(t, err)
	require.Equal(t, "t1", env.TaskID)
}
