package store

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so identical records always
// produce identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
