package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_DeleteResourceCommand(t *testing.T) {
	in := DeleteResourceCommand{ResourceKey: 42}

	data, err := Encode(in)
	require.NoError(t, err)

	var out DeleteResourceCommand
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestEncodeDecode_ProcessRecord(t *testing.T) {
	in := ProcessRecord{
		BpmnProcessID: "p",
		Version:       1,
		Key:           100,
		ResourceName:  "p.bpmn",
		Checksum:      []byte{1, 2, 3},
		Resource:      []byte("<bpmn/>"),
	}

	data, err := Encode(in)
	require.NoError(t, err)

	var out ProcessRecord
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestProcessRecord_WithoutResource(t *testing.T) {
	in := ProcessRecord{
		BpmnProcessID: "p",
		Version:       1,
		Key:           100,
		ResourceName:  "p.bpmn",
		Checksum:      []byte{1, 2, 3},
		Resource:      []byte("<bpmn/>"),
	}

	stripped := in.WithoutResource()
	assert.Nil(t, stripped.Checksum)
	assert.Nil(t, stripped.Resource)
	assert.Equal(t, in.Key, stripped.Key)
}

func TestEncodeDecode_DecisionRecord(t *testing.T) {
	in := DecisionRecord{
		DecisionID:   "X",
		DecisionName: "Decide X",
		Version:      3,
		DecisionKey:  30,
		DrgID:        "D",
		DrgKey:       7,
	}

	data, err := Encode(in)
	require.NoError(t, err)

	var out DecisionRecord
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestEncodeDecode_DrgRecord(t *testing.T) {
	in := DrgRecord{
		DrgID:        "D",
		DrgName:      "Drg D",
		DrgVersion:   1,
		DrgKey:       7,
		ResourceName: "d.dmn",
		Checksum:     []byte{9, 9},
		Resource:     []byte("<dmn/>"),
	}

	data, err := Encode(in)
	require.NoError(t, err)

	var out DrgRecord
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)
}
