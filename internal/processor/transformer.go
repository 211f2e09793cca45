package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/config"
	"mariadb-cdc/internal/models"
)

// ErrEventRejected is returned when a JavaScript transform function rejects an event
// by returning null or undefined
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer reshapes change events with either a JavaScript function or
// YAML column rules
type Transformer struct {
	config   *config.ProcessorConfig
	logger   *logrus.Logger
	rules    []*RuleMatcher
	program  *goja.Program // compiled script, nil without one
	natsConn *nats.Conn    // backs the nats.* script bindings when set
}

// RuleMatcher matches and applies one column rule
type RuleMatcher struct {
	database  string
	table     string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer creates a transformer for cfg. A nil or disabled config
// passes events through unchanged.
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger, natsConn *nats.Conn) (*Transformer, error) {
	transformer := &Transformer{
		config:   cfg,
		logger:   logger,
		rules:    []*RuleMatcher{},
		natsConn: natsConn,
	}
	if cfg == nil || !cfg.Enabled {
		return transformer, nil
	}

	if cfg.Script != "" {
		source, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}
		program, err := compileScript(cfg.Script, string(source))
		if err != nil {
			return nil, fmt.Errorf("invalid JavaScript script: %w", err)
		}
		transformer.program = program
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
	}

	for _, rule := range cfg.Rules {
		matcher := &RuleMatcher{
			database:  rule.Database,
			table:     rule.Table,
			include:   make(map[string]bool),
			exclude:   make(map[string]bool),
			rename:    make(map[string]string),
			addFields: rule.AddFields,
		}
		for _, field := range rule.Include {
			matcher.include[strings.ToLower(field)] = true
		}
		for _, field := range rule.Exclude {
			matcher.exclude[strings.ToLower(field)] = true
		}
		for from, to := range rule.Rename {
			matcher.rename[strings.ToLower(from)] = to
		}
		transformer.rules = append(transformer.rules, matcher)
	}
	return transformer, nil
}

// compileScript compiles the script and checks that it yields a transform function
func compileScript(name, source string) (*goja.Program, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	if _, err := transformFunc(goja.New(), program); err != nil {
		return nil, err
	}
	return program, nil
}

// transformFunc runs the program and returns the transform function it defines.
// The script either evaluates to a function or declares one named transform.
func transformFunc(vm *goja.Runtime, program *goja.Program) (goja.Callable, error) {
	result, err := vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}
	if fn, ok := goja.AssertFunction(result); ok {
		return fn, nil
	}
	if fn, ok := goja.AssertFunction(vm.Get("transform")); ok {
		return fn, nil
	}
	return nil, errors.New("script must export a function (either anonymous function or named 'transform' function)")
}

// Transform applies the configured transformation to a change event
func (t *Transformer) Transform(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	if t.config == nil || !t.config.Enabled {
		return event, nil
	}
	// a script takes precedence over rules
	if t.program != nil {
		return t.transformWithJavaScript(event)
	}
	if len(t.rules) > 0 {
		return t.transformWithRules(event), nil
	}
	return event, nil
}

func (t *Transformer) transformWithJavaScript(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	t.logger.Debugf("Transforming event with JavaScript: %s.%s (operation: %s)", event.Database, event.Table, event.Operation)

	// goja.Runtime is not safe for concurrent use, each event gets its own
	vm := goja.New()
	if err := t.setupConsoleBindings(vm); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}
	if t.natsConn != nil {
		if err := t.setupNATSBindings(vm); err != nil {
			return nil, fmt.Errorf("failed to setup NATS bindings: %w", err)
		}
	}

	transform, err := transformFunc(vm, t.program)
	if err != nil {
		return nil, err
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return nil, fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := transform(goja.Undefined(), eventObj)
	if err != nil {
		t.logger.Errorf("JavaScript transform function error: %v", err)
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Infof("Event rejected by JavaScript transformer: %s.%s (operation: %s)", event.Database, event.Table, event.Operation)
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	t.logger.Debugf("JavaScript transformation result: %s", string(resultJSON))

	// known fields are read back; RawJSON keeps whatever else the script added
	transformed := &models.ChangeEvent{}
	if err := json.Unmarshal(resultJSON, transformed); err != nil {
		t.logger.Errorf("Failed to unmarshal JavaScript result: %v, JSON: %s", err, string(resultJSON))
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	transformed.RawJSON = resultJSON
	return transformed, nil
}

// transformWithRules applies the first rule matching the event's table
func (t *Transformer) transformWithRules(event *models.ChangeEvent) *models.ChangeEvent {
	var rule *RuleMatcher
	for _, r := range t.rules {
		if r.matches(event.Database, event.Table) {
			rule = r
			break
		}
	}
	if rule == nil {
		return event
	}

	transformed := *event
	transformed.RawJSON = nil
	transformed.Rows = make([]models.RowChange, len(event.Rows))
	for i, row := range event.Rows {
		transformed.Rows[i] = models.RowChange{
			Keys:           rule.renameKeys(row.Keys),
			Columns:        rule.apply(row.Columns),
			OldKeys:        rule.renameKeys(row.OldKeys),
			OldColumns:     rule.apply(row.OldColumns),
			ChangedColumns: rule.applyChanges(row.ChangedColumns),
			Error:          row.Error,
		}
	}
	return &transformed
}

// outputName returns the published name of a column, or false when it is dropped
func (r *RuleMatcher) outputName(column string) (string, bool) {
	lower := strings.ToLower(column)
	if len(r.exclude) > 0 && r.exclude[lower] {
		return "", false
	}
	if len(r.include) > 0 && !r.include[lower] {
		return "", false
	}
	if name, ok := r.rename[lower]; ok {
		return name, true
	}
	return column, true
}

func (r *RuleMatcher) apply(row map[string]interface{}) map[string]interface{} {
	if row == nil {
		return nil
	}
	transformed := make(map[string]interface{}, len(row)+len(r.addFields))
	for key, value := range r.addFields {
		transformed[key] = value
	}
	for key, value := range row {
		if name, ok := r.outputName(key); ok {
			transformed[name] = value
		}
	}
	return transformed
}

func (r *RuleMatcher) applyChanges(changes map[string]models.ColumnChange) map[string]models.ColumnChange {
	if changes == nil {
		return nil
	}
	transformed := make(map[string]models.ColumnChange, len(changes))
	for key, change := range changes {
		if name, ok := r.outputName(key); ok {
			transformed[name] = change
		}
	}
	return transformed
}

// renameKeys renames primary key columns; keys are never dropped
func (r *RuleMatcher) renameKeys(keys *models.Keys) *models.Keys {
	if keys == nil {
		return nil
	}
	renamed := *keys
	renamed.PrimaryColumns = make([]string, len(keys.PrimaryColumns))
	for i, column := range keys.PrimaryColumns {
		renamed.PrimaryColumns[i] = column
		if name, ok := r.rename[strings.ToLower(column)]; ok {
			renamed.PrimaryColumns[i] = name
		}
	}
	return &renamed
}

// matches checks if a rule matches the given database and table
func (r *RuleMatcher) matches(database, table string) bool {
	if r.database != "" && !strings.EqualFold(r.database, database) {
		return false
	}
	if r.table != "" && !strings.EqualFold(r.table, table) {
		return false
	}
	return true
}

// setupConsoleBindings routes console.* calls to the logger
func (t *Transformer) setupConsoleBindings(vm *goja.Runtime) error {
	console := vm.NewObject()
	bind := func(name string, log func(args ...interface{})) error {
		fn := func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprint(arg.Export())
			}
			log(strings.Join(parts, " "))
			return goja.Undefined()
		}
		if err := console.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
		return nil
	}

	for name, log := range map[string]func(args ...interface{}){
		"log":   t.logger.Info,
		"info":  t.logger.Info,
		"warn":  t.logger.Warn,
		"error": t.logger.Error,
		"debug": t.logger.Debug,
	} {
		if err := bind(name, log); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// payload converts a script value to message bytes
func payload(vm *goja.Runtime, fn string, v goja.Value) []byte {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(vm.NewTypeError("%s: value is required", fn))
	}
	switch exported := v.Export().(type) {
	case string:
		return []byte(exported)
	case []byte:
		return exported
	default:
		data, err := json.Marshal(exported)
		if err != nil {
			panic(vm.NewTypeError("%s: failed to marshal value: %v", fn, err))
		}
		return data
	}
}

// setupNATSBindings exposes nats.publish and nats.kv.get/put/delete to scripts
func (t *Transformer) setupNATSBindings(vm *goja.Runtime) error {
	natsObj := vm.NewObject()

	publishFn := func(call goja.FunctionCall) goja.Value {
		subject := call.Argument(0).String()
		if subject == "" {
			panic(vm.NewTypeError("nats.publish: subject is required"))
		}
		if err := t.natsConn.Publish(subject, payload(vm, "nats.publish", call.Argument(1))); err != nil {
			t.logger.Errorf("NATS publish error: %v", err)
			panic(vm.NewGoError(err))
		}
		t.logger.Debugf("Published to NATS subject: %s", subject)
		return goja.Undefined()
	}
	if err := natsObj.Set("publish", publishFn); err != nil {
		return fmt.Errorf("failed to set publish function: %w", err)
	}

	bucketKey := func(fn string, call goja.FunctionCall) (nats.KeyValue, string) {
		bucket := call.Argument(0).String()
		key := call.Argument(1).String()
		if bucket == "" || key == "" {
			panic(vm.NewTypeError("%s: bucket and key are required", fn))
		}
		js, err := t.natsConn.JetStream()
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("failed to get JetStream context: %w", err)))
		}
		kv, err := js.KeyValue(bucket)
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("failed to get KV store '%s': %w", bucket, err)))
		}
		return kv, key
	}

	kvObj := vm.NewObject()
	kvGet := func(call goja.FunctionCall) goja.Value {
		kv, key := bucketKey("nats.kv.get", call)
		entry, err := kv.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			return goja.Null()
		}
		if err != nil {
			t.logger.Errorf("KV get error: %v", err)
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(entry.Value()))
	}
	kvPut := func(call goja.FunctionCall) goja.Value {
		kv, key := bucketKey("nats.kv.put", call)
		if _, err := kv.Put(key, payload(vm, "nats.kv.put", call.Argument(2))); err != nil {
			t.logger.Errorf("KV put error: %v", err)
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}
	kvDelete := func(call goja.FunctionCall) goja.Value {
		kv, key := bucketKey("nats.kv.delete", call)
		if err := kv.Delete(key); err != nil {
			t.logger.Errorf("KV delete error: %v", err)
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"get":    kvGet,
		"put":    kvPut,
		"delete": kvDelete,
	} {
		if err := kvObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set KV %s function: %w", name, err)
		}
	}
	if err := natsObj.Set("kv", kvObj); err != nil {
		return fmt.Errorf("failed to set KV object: %w", err)
	}
	if err := vm.Set("nats", natsObj); err != nil {
		return fmt.Errorf("failed to set nats object: %w", err)
	}
	return nil
}

// ValidateRules validates processor configuration rules
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}
	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}
		// with an include list only included columns can be renamed
		if len(rule.Include) > 0 {
			for oldName := range rule.Rename {
				found := false
				for _, inc := range rule.Include {
					if strings.EqualFold(inc, oldName) {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, oldName)
				}
			}
		}
	}
	return nil
}
