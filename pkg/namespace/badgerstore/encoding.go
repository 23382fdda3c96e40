package badgerstore

import (
	"encoding/json"
	"fmt"

	"github.com/aeriedb/aerie/pkg/namespace"
)

// Nodes are stored as JSON. Values are small (attribute maps, a few
// flags), so readability wins over a binary encoding.

func encodeNode(n *namespace.Node) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %q: %w", n.Path, err)
	}
	return data, nil
}

func decodeNode(data []byte) (*namespace.Node, error) {
	var n namespace.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}
	return &n, nil
}
