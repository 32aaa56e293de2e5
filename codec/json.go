package codec

import "encoding/json"

// JSON encodes messages as JSON.
type JSON struct{}

func (c *JSON) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *JSON) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return stamp(&m), nil
}

func (c *JSON) Name() string { return NameJSON }
