// Package builtin provides the service kinds every hostd binary ships.
// Bundle manifests refer to them by kind name.
package builtin

import (
	"fmt"

	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/mitchellh/mapstructure"
)

const (
	KindHTTPStatic = "http-static"
	KindTicker     = "ticker"
)

// Register adds the built-in kinds to c.
func Register(c *codeunit.Catalog) {
	c.Register(KindHTTPStatic, newStaticServer)
	c.Register(KindTicker, newTicker)
}

func decodeConfig(env codeunit.Env, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(env.Config); err != nil {
		return fmt.Errorf("%s/%s config: %w", env.Module, env.Type, err)
	}
	return nil
}
