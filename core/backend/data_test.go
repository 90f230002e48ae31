package backend

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wave-research/wave/core/dyntable"
	"github.com/wave-research/wave/core/store"
)

// createTestType registers an experiment type with a small measurement
// schema and returns it.
func createTestType(t *testing.T, name, tableName string) store.ExperimentType {
	t.Helper()
	var et store.ExperimentType
	status, err := testService.client.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":       name,
		"table_name": tableName,
		"schema_definition": map[string]interface{}{
			"score":     "INTEGER",
			"condition": "STRING",
			"notes":     map[string]interface{}{"type": "STRING", "nullable": true},
		},
	}, &et)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	return et
}

func createTestTag(t *testing.T, name string) {
	t.Helper()
	status, err := testService.client.RawPost("/api/v1/tags",
		map[string]interface{}{"name": name}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
}

func createTestExperiment(t *testing.T, typeID int64, participantID string, tags []string) store.Experiment {
	t.Helper()
	var e store.Experiment
	status, err := testService.clientResearcher.RawPost("/api/v1/experiments", map[string]interface{}{
		"experiment_type_id": typeID,
		"participant_id":     participantID,
		"description":        "session for " + participantID,
		"tags":               tags,
	}, &e)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	return e
}

func TestExperimentCRUD(t *testing.T) {
	et := createTestType(t, "memory_task", "memory_task_data")
	createTestTag(t, "cohort-a")
	createTestTag(t, "cohort-b")

	e := createTestExperiment(t, et.ID, "P001", []string{"cohort-a"})
	assert.Equal(t, et.ID, e.ExperimentTypeID)
	assert.Equal(t, "P001", e.ParticipantID)
	require.NotNil(t, e.ExperimentType, "experiment type is attached eagerly")
	assert.Equal(t, "memory_task", e.ExperimentType.Name)

	var fetched store.Experiment
	_, err := testService.clientResearcher.RawGet("/api/v1/experiments/"+e.UUID.String(), &fetched)
	require.NoError(t, err)
	assert.Equal(t, e.UUID, fetched.UUID)
	assert.Equal(t, []string{"cohort-a"}, fetched.Tags)

	status, _ := testService.clientResearcher.RawGet("/api/v1/experiments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var updated store.Experiment
	_, err = testService.clientResearcher.RawPut("/api/v1/experiments/"+e.UUID.String(), map[string]interface{}{
		"tags":        []string{"cohort-a", "cohort-b"},
		"description": "updated session",
	}, &updated)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cohort-a", "cohort-b"}, updated.Tags)
	assert.Equal(t, "updated session", updated.Description)
	assert.Equal(t, "P001", updated.ParticipantID, "participant unchanged by partial update")

	// list with filters
	var experiments []store.Experiment
	_, err = testService.clientResearcher.RawGet(
		"/api/v1/experiments?experiment_type_id="+itoa(et.ID)+"&participant_id=P001", &experiments)
	require.NoError(t, err)
	require.Len(t, experiments, 1)
	assert.Equal(t, e.UUID, experiments[0].UUID)

	_, err = testService.clientResearcher.RawGet("/api/v1/experiments?tags=cohort-b", &experiments)
	require.NoError(t, err)
	require.Len(t, experiments, 1)

	_, err = testService.clientResearcher.RawGet("/api/v1/experiments?tags=no-such-tag", &experiments)
	require.NoError(t, err)
	assert.Empty(t, experiments)

	// columns for this experiment's data table
	var columns columnsResponse
	_, err = testService.clientResearcher.RawGet("/api/v1/experiments/"+e.UUID.String()+"/columns", &columns)
	require.NoError(t, err)
	require.NotNil(t, columns.ExperimentUUID)
	assert.Equal(t, e.UUID.String(), *columns.ExperimentUUID)
	assert.Equal(t, "memory_task", columns.ExperimentType)
	assert.NotEmpty(t, columns.Columns)

	var deleted map[string]string
	status, err = testService.client.RawDelete("/api/v1/experiments/"+e.UUID.String(), &deleted)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Experiment deleted successfully", deleted["message"])

	status, _ = testService.clientResearcher.RawGet("/api/v1/experiments/"+e.UUID.String(), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestExperimentTagValidation(t *testing.T) {
	et := createTestType(t, "tag_validation_task", "tag_validation_task_data")

	// unknown tag
	status, _ := testService.clientResearcher.RawPost("/api/v1/experiments", map[string]interface{}{
		"experiment_type_id": et.ID,
		"participant_id":     "P100",
		"tags":               []string{"does-not-exist"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// more than ten tags
	tags := make([]string, 11)
	for i := range tags {
		tags[i] = "overflow-" + itoa(int64(i))
		createTestTag(t, tags[i])
	}
	status, _ = testService.clientResearcher.RawPost("/api/v1/experiments", map[string]interface{}{
		"experiment_type_id": et.ID,
		"participant_id":     "P100",
		"tags":               tags,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// unknown experiment type
	status, _ = testService.clientResearcher.RawPost("/api/v1/experiments", map[string]interface{}{
		"experiment_type_id": int64(999999),
		"participant_id":     "P100",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// tag names use the full width the tags table allows
	longTag := strings.Repeat("q", 80)
	createTestTag(t, longTag)
	var e store.Experiment
	status, err := testService.clientResearcher.RawPost("/api/v1/experiments", map[string]interface{}{
		"experiment_type_id": et.ID,
		"participant_id":     "P101",
		"tags":               []string{longTag},
	}, &e)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, []string{longTag}, e.Tags)
}

func TestExperimentRoles(t *testing.T) {
	et := createTestType(t, "role_task", "role_task_data")
	body := map[string]interface{}{
		"experiment_type_id": et.ID,
		"participant_id":     "P200",
	}

	status, _ := testService.clientNoAuth.RawPost("/api/v1/experiments", body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = testService.clientExperimentee.RawPost("/api/v1/experiments", body, nil)
	assert.Equal(t, http.StatusForbidden, status)

	e := createTestExperiment(t, et.ID, "P200", nil)

	// deleting experiments takes the admin role
	status, _ = testService.clientResearcher.RawDelete("/api/v1/experiments/"+e.UUID.String(), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, err := testService.client.RawDelete("/api/v1/experiments/"+e.UUID.String(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestExperimentDataRows(t *testing.T) {
	et := createTestType(t, "data_task", "data_task_data")
	e := createTestExperiment(t, et.ID, "P300", nil)
	c := testService.clientNoAuth // data routes carry no role requirement
	base := "/api/v1/experiment-data/" + e.UUID.String() + "/data"

	var row map[string]interface{}
	status, err := c.RawPost(base, map[string]interface{}{
		"participant_id": "P300",
		"data": map[string]interface{}{
			"score":     42,
			"condition": "A",
			"notes":     "first trial",
		},
	}, &row)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 42, row["score"])
	assert.Equal(t, "A", row["condition"])
	assert.Equal(t, "P300", row["participant_id"])
	assert.Equal(t, e.UUID.String(), row["experiment_uuid"])
	assert.NotNil(t, row["created_at"])
	rowIDStr := itoa(int64(row["id"].(float64)))

	// unknown columns are rejected with the offending names
	status, err = c.RawPost(base, map[string]interface{}{
		"data": map[string]interface{}{"bogus_column": 1},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, err.Error(), "bogus_column")

	for i := 0; i < 4; i++ {
		status, err = c.RawPost(base, map[string]interface{}{
			"participant_id": "P301",
			"data":           map[string]interface{}{"score": 10 + i, "condition": "B"},
		}, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, status)
	}

	var rows []map[string]interface{}
	_, err = c.RawGet(base, &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	_, err = c.RawGet(base+"?limit=2&offset=2", &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = c.RawGet(base+"?participant_id=P301", &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	status, _ = c.RawGet(base+"?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = c.RawGet(base+"?created_after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var count dataCountResponse
	_, err = c.RawGet(base+"/count", &count)
	require.NoError(t, err)
	assert.Equal(t, 5, count.Count)
	assert.Equal(t, e.UUID.String(), count.ExperimentUUID)

	_, err = c.RawGet(base+"/count?participant_id=P300", &count)
	require.NoError(t, err)
	assert.Equal(t, 1, count.Count)
	require.NotNil(t, count.ParticipantID)
	assert.Equal(t, "P300", *count.ParticipantID)

	var columns []dyntable.Column
	_, err = c.RawGet(base+"/columns", &columns)
	require.NoError(t, err)
	assert.NotEmpty(t, columns)

	// single row round trip
	var single map[string]interface{}
	_, err = c.RawGet(base+"/row/"+rowIDStr, &single)
	require.NoError(t, err)
	assert.EqualValues(t, 42, single["score"])

	var updated map[string]interface{}
	_, err = c.RawPut(base+"/row/"+rowIDStr, map[string]interface{}{
		"data": map[string]interface{}{
			"score":           99,
			"id":              12345,
			"experiment_uuid": "11111111-1111-1111-1111-111111111111",
		},
	}, &updated)
	require.NoError(t, err)
	assert.EqualValues(t, 99, updated["score"])
	assert.Equal(t, single["id"], updated["id"], "id is immutable")
	assert.Equal(t, e.UUID.String(), updated["experiment_uuid"], "experiment scope is immutable")
	assert.Equal(t, single["created_at"], updated["created_at"])
	assert.NotEqual(t, single["updated_at"], updated["updated_at"], "updated_at is refreshed")

	// updates that strip down to nothing do not match a row
	status, _ = c.RawPut(base+"/row/"+rowIDStr, map[string]interface{}{
		"data": map[string]interface{}{"id": 1},
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var deleted dataDeleteResponse
	status, err = c.RawDelete(base+"/row/"+rowIDStr, &deleted)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Experiment data row deleted successfully", deleted.Message)
	assert.Equal(t, e.UUID.String(), deleted.ExperimentUUID)

	status, _ = c.RawGet(base+"/row/"+rowIDStr, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestExperimentDataQuery(t *testing.T) {
	et := createTestType(t, "query_task", "query_task_data")
	e := createTestExperiment(t, et.ID, "P400", nil)
	c := testService.clientNoAuth
	base := "/api/v1/experiment-data/" + e.UUID.String() + "/data"

	for i, condition := range []string{"A", "A", "B"} {
		_, err := c.RawPost(base, map[string]interface{}{
			"participant_id": "P400",
			"data":           map[string]interface{}{"score": i, "condition": condition},
		}, nil)
		require.NoError(t, err)
	}

	var rows []map[string]interface{}
	_, err := c.RawPost(base+"/query", map[string]interface{}{
		"filters": map[string]interface{}{"condition": "A"},
	}, &rows)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "A", row["condition"])
	}

	_, err = c.RawPost(base+"/query", map[string]interface{}{
		"filters": map[string]interface{}{"condition": "A"},
		"limit":   1,
		"offset":  1,
	}, &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// The scoping columns of an inserted row come from the request path and
// body fields, never from the data map. A payload smuggling another
// experiment's uuid must not move the row out of its experiment.
func TestExperimentDataInsertScoping(t *testing.T) {
	et := createTestType(t, "scoping_task", "scoping_task_data")
	victim := createTestExperiment(t, et.ID, "P700", nil)
	attacker := createTestExperiment(t, et.ID, "P701", nil)
	c := testService.clientNoAuth

	var row map[string]interface{}
	status, err := c.RawPost("/api/v1/experiment-data/"+attacker.UUID.String()+"/data",
		map[string]interface{}{
			"participant_id": "P701",
			"data": map[string]interface{}{
				"score":           1,
				"experiment_uuid": victim.UUID.String(),
				"participant_id":  "someone-else",
			},
		}, &row)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, attacker.UUID.String(), row["experiment_uuid"])
	assert.Equal(t, "P701", row["participant_id"])

	// the row lives in the attacker's experiment, nothing arrived in
	// the victim's
	var rows []map[string]interface{}
	_, err = c.RawGet("/api/v1/experiment-data/"+victim.UUID.String()+"/data", &rows)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = c.RawGet("/api/v1/experiment-data/"+attacker.UUID.String()+"/data", &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["score"])
}

// Two experiments of the same type share a physical table, but rows are
// only ever visible through their own experiment.
func TestExperimentDataIsolation(t *testing.T) {
	et := createTestType(t, "isolation_task", "isolation_task_data")
	first := createTestExperiment(t, et.ID, "P500", nil)
	second := createTestExperiment(t, et.ID, "P501", nil)
	c := testService.clientNoAuth

	firstBase := "/api/v1/experiment-data/" + first.UUID.String() + "/data"
	secondBase := "/api/v1/experiment-data/" + second.UUID.String() + "/data"

	var row map[string]interface{}
	_, err := c.RawPost(firstBase, map[string]interface{}{
		"data": map[string]interface{}{"score": 1},
	}, &row)
	require.NoError(t, err)
	rowIDStr := itoa(int64(row["id"].(float64)))

	_, err = c.RawPost(secondBase, map[string]interface{}{
		"data": map[string]interface{}{"score": 2},
	}, nil)
	require.NoError(t, err)

	var rows []map[string]interface{}
	_, err = c.RawGet(firstBase, &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["score"])

	var count dataCountResponse
	_, err = c.RawGet(secondBase+"/count", &count)
	require.NoError(t, err)
	assert.Equal(t, 1, count.Count)

	// a row cannot be reached through the wrong experiment
	status, _ := c.RawGet(secondBase+"/row/"+rowIDStr, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = c.RawPut(secondBase+"/row/"+rowIDStr,
		map[string]interface{}{"data": map[string]interface{}{"score": 7}}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = c.RawDelete(secondBase+"/row/"+rowIDStr, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
