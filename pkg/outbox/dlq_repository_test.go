package outbox

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rentescrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/rentescrow-backend/pkg/db/types"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

func TestDLQInsertKeepsFirstEntryPerEvent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	eventID := uuid.New()
	long := strings.Repeat("é", maxDLQErrorLen)

	entry := func(reason enums.OutboxDLQErrorReason) models.OutboxDLQ {
		return models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventDepositFunded,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   uuid.New(),
			Payload:       dbtypes.JSONB(`{"version":1}`),
			ErrorReason:   reason,
			ErrorMessage:  &long,
		}
	}
	require.NoError(t, repo.InsertTx(conn, entry(enums.OutboxDLQReasonNonRetryable)))
	require.NoError(t, repo.InsertTx(conn, entry(enums.OutboxDLQReasonMaxAttempts)))

	var rows []models.OutboxDLQ
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, rows[0].ErrorReason)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.LessOrEqual(t, len(*rows[0].ErrorMessage), maxDLQErrorLen)
	assert.Error(t, repo.InsertTx(nil, entry(enums.OutboxDLQReasonMaxAttempts)))
}

func TestClipRespectsRunes(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 10))
	assert.Equal(t, "é", clip("éé", 3))
}
