package sqlite

import (
	"database/sql/driver"
	"fmt"

	msqlite "modernc.org/sqlite"

	"neuralcraft/internal/vectorstore"
)

func init() {
	// Deterministic: same input blobs produce the same distance.
	_ = msqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vecDistanceCos)
}

// vecDistanceCos is 1 - cosine similarity over little-endian float32 blobs,
// matching the sqlite-vec function of the same name.
func vecDistanceCos(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	cos, err := vectorstore.Cosine(a, b)
	if err != nil {
		return nil, fmt.Errorf("vector_distance_cos: %w", err)
	}
	return 1 - cos, nil
}

func blobArg(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return vectorstore.DecodeFloat32(x)
	default:
		return nil, fmt.Errorf("vector_distance_cos: unsupported argument type %T", v)
	}
}
