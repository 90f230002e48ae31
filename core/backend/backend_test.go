package backend

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wave-research/wave/core/access"
	"github.com/wave-research/wave/core/client"
	"github.com/wave-research/wave/core/colschema"
	"github.com/wave-research/wave/core/csql"
	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/store"
)

type TestService struct {
	Postgres string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`

	backend            *Backend
	client             client.Client // admin
	clientResearcher   client.Client
	clientExperimentee client.Client
	clientNoAuth       client.Client
}

var testService TestService

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func testContext() context.Context {
	return context.Background()
}

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}
	logger.InitLogger(logrus.WarnLevel)

	db := csql.OpenWithSchema(testService.Postgres, "_backend_unit_test_")
	defer db.Close()
	db.ClearSchema()

	router := mux.NewRouter()
	testService.backend = New(&Builder{
		DB:     db,
		Router: router,
		Backdoors: map[string]access.Authorization{
			"admin-token":        {Role: access.RoleAdmin},
			"researcher-token":   {Role: access.RoleResearcher},
			"experimentee-token": {Role: access.RoleExperimentee},
		},
	})
	testService.client = client.NewWithRouter(router).WithToken("admin-token")
	testService.clientResearcher = client.NewWithRouter(router).WithToken("researcher-token")
	testService.clientExperimentee = client.NewWithRouter(router).WithToken("experimentee-token")
	testService.clientNoAuth = client.NewWithRouter(router)

	code := m.Run()
	os.Exit(code)
}

func TestServiceRoutes(t *testing.T) {
	var health map[string]string
	_, err := testService.clientNoAuth.RawGet("/health", &health)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	var info map[string]string
	_, err = testService.clientNoAuth.RawGet("/", &info)
	require.NoError(t, err)
	assert.NotEmpty(t, info["message"])

	var v map[string]string
	_, err = testService.clientNoAuth.RawGet("/version", &v)
	require.NoError(t, err)
	assert.Equal(t, "unset", v["version"])
	assert.Equal(t, "1.0.0", v["api_version"])
}

func TestTagCRUD(t *testing.T) {
	c := testService.client

	var tag store.Tag
	status, err := c.RawPost("/api/v1/tags", map[string]interface{}{
		"name":        "pilot",
		"description": "pilot runs",
	}, &tag)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "pilot", tag.Name)
	require.NotNil(t, tag.Description)
	assert.Equal(t, "pilot runs", *tag.Description)
	assert.NotZero(t, tag.ID)

	// duplicate name is rejected
	status, _ = c.RawPost("/api/v1/tags", map[string]interface{}{"name": "pilot"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var fetched store.Tag
	_, err = c.RawGet("/api/v1/tags/"+itoa(tag.ID), &fetched)
	require.NoError(t, err)
	assert.Equal(t, tag.ID, fetched.ID)

	_, err = c.RawGet("/api/v1/tags/name/pilot", &fetched)
	require.NoError(t, err)
	assert.Equal(t, tag.ID, fetched.ID)

	var updated store.Tag
	status, err = c.RawPut("/api/v1/tags/"+itoa(tag.ID), map[string]interface{}{
		"description": "first pilot runs",
	}, &updated)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "first pilot runs", *updated.Description)
	assert.Equal(t, "pilot", updated.Name, "name unchanged by partial update")

	var tags []store.Tag
	_, err = c.RawGet("/api/v1/tags", &tags)
	require.NoError(t, err)
	assert.NotEmpty(t, tags)

	status, err = c.RawDelete("/api/v1/tags/"+itoa(tag.ID), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, _ = c.RawGet("/api/v1/tags/"+itoa(tag.ID), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTagPaginationValidation(t *testing.T) {
	c := testService.client
	status, _ := c.RawGet("/api/v1/tags?skip=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = c.RawGet("/api/v1/tags?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = c.RawGet("/api/v1/tags?limit=2000", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = c.RawGet("/api/v1/tags?skip=0&limit=1000", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestExperimentTypeCRUD(t *testing.T) {
	c := testService.client

	var et store.ExperimentType
	status, err := c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":       "cognitive_test",
		"table_name": "cognitive_test_data",
		"schema_definition": map[string]interface{}{
			"reaction_time": "FLOAT",
			"accuracy":      "FLOAT",
			"trial":         "INTEGER",
			"stimulus":      "STRING",
		},
	}, &et)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "cognitive_test", et.Name)
	assert.Equal(t, "cognitive_test_data", et.TableName)
	assert.NotZero(t, et.ID)

	// duplicate name is rejected
	status, _ = c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":       "cognitive_test",
		"table_name": "cognitive_test_data_2",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// the physical table exists, with fixed and custom columns
	var columns columnsResponse
	_, err = c.RawGet("/api/v1/experiment-types/name/cognitive_test/columns", &columns)
	require.NoError(t, err)
	assert.Equal(t, "cognitive_test", columns.ExperimentType)
	names := map[string]bool{}
	for _, col := range columns.Columns {
		names[col.Name] = true
	}
	for _, expected := range []string{"id", "experiment_uuid", "participant_id", "created_at", "updated_at",
		"reaction_time", "accuracy", "trial", "stimulus"} {
		assert.True(t, names[expected], "missing column %s", expected)
	}

	var fetched store.ExperimentType
	_, err = c.RawGet("/api/v1/experiment-types/"+itoa(et.ID), &fetched)
	require.NoError(t, err)
	assert.Equal(t, et.Name, fetched.Name)
	assert.Equal(t, "FLOAT", fetched.SchemaDefinition["reaction_time"])

	var updated store.ExperimentType
	_, err = c.RawPut("/api/v1/experiment-types/"+itoa(et.ID), map[string]interface{}{
		"description": "cognitive performance evaluation",
	}, &updated)
	require.NoError(t, err)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "cognitive performance evaluation", *updated.Description)
	assert.Equal(t, et.TableName, updated.TableName, "table name never changes")
}

func TestExperimentTypeSchemaValidation(t *testing.T) {
	c := testService.client

	// reserved column name
	status, _ := c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":              "bad_type_reserved",
		"table_name":        "bad_type_reserved_data",
		"schema_definition": map[string]interface{}{"experiment_uuid": "STRING"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// unsupported type
	status, _ = c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":              "bad_type_unsupported",
		"table_name":        "bad_type_unsupported_data",
		"schema_definition": map[string]interface{}{"amount": "DECIMAL"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// object form without type
	status, _ = c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":              "bad_type_missing",
		"table_name":        "bad_type_missing_data",
		"schema_definition": map[string]interface{}{"notes": map[string]interface{}{"nullable": true}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// no metadata row survives a rejected create
	for _, name := range []string{"bad_type_reserved", "bad_type_unsupported", "bad_type_missing"} {
		status, _ = c.RawGet("/api/v1/experiment-types/name/"+name+"/columns", nil)
		assert.Equal(t, http.StatusNotFound, status)
	}
}

func TestExperimentTypeProvisioningRollback(t *testing.T) {
	c := testService.client
	tables := testService.backend.Store().Tables()

	// occupy the physical table name without a metadata row, so the
	// metadata insert succeeds and provisioning is what fails
	require.True(t, tables.CreateTable(testContext(), "rollback_occupied_data", colschema.Schema{}))

	status, _ := c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":       "rollback_type",
		"table_name": "rollback_occupied_data",
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	orphan, err := testService.backend.Store().GetExperimentTypeByName(testContext(), "rollback_type")
	require.NoError(t, err)
	assert.Nil(t, orphan, "rolled back metadata row must not exist")

	// a duplicate table name with an existing metadata row is caught by
	// the unique constraint before provisioning
	et := createTestType(t, "rollback_first", "rollback_first_data")
	status, _ = c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":       "rollback_second",
		"table_name": "rollback_first_data",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	survivor, err := testService.backend.Store().GetExperimentType(testContext(), et.ID)
	require.NoError(t, err)
	require.NotNil(t, survivor)
}

func TestExperimentTypeDeleteDropsTable(t *testing.T) {
	c := testService.client

	var et store.ExperimentType
	_, err := c.RawPost("/api/v1/experiment-types", map[string]interface{}{
		"name":       "ephemeral_type",
		"table_name": "ephemeral_type_data",
	}, &et)
	require.NoError(t, err)

	status, err := c.RawDelete("/api/v1/experiment-types/"+itoa(et.ID), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, _ = c.RawGet("/api/v1/experiment-types/"+itoa(et.ID), nil)
	assert.Equal(t, http.StatusNotFound, status)

	// the physical table is gone as well
	table := testService.backend.Store().Tables().Reflect(testContext(), "ephemeral_type_data")
	assert.Nil(t, table)
}
