package audit

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/report_v1.json
var reportV1Schema string

// supportedEngines lists the engine versions whose reports this build can
// read. A new major version means the allocation rules changed.
const supportedEngines = ">= 1.0.0, < 2.0.0"

var compileV1 = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("report_v1.json", reportV1Schema)
})

var engineConstraint = sync.OnceValues(func() (*semver.Constraints, error) {
	return semver.NewConstraint(supportedEngines)
})

func validateV1(raw []byte) error {
	sch, err := compileV1()
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", SchemaV1, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode audit report: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("audit report does not match %s: %w", SchemaV1, err)
	}
	return nil
}

// CheckEngineVersion rejects reports written by an engine whose allocation
// rules this build does not implement.
func CheckEngineVersion(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("engine version %q: %w", v, err)
	}
	c, err := engineConstraint()
	if err != nil {
		return err
	}
	if !c.Check(ver) {
		return fmt.Errorf("engine version %s is outside %s", v, supportedEngines)
	}
	return nil
}
