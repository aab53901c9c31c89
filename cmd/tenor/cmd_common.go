package main

import (
	"encoding/json"
	"fmt"
	"os"

	"tenor/internal/eval"
)

func loadContractFile(path string) (*eval.Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	contract, err := eval.LoadContract(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return contract, nil
}

func loadFactsFile(path string) (any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	var facts any
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("%s: invalid facts JSON: %w", path, err)
	}
	return facts, nil
}

// loadStateFile reads an entity state map. Each entry's value is either
// a state name, applied to the default instance, or an object mapping
// instance ids to state names.
func loadStateFile(path string, contract *eval.Contract) (eval.EntityStateMap, error) {
	if path == "" {
		return eval.InitEntityStates(contract), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: invalid state JSON: %w", path, err)
	}
	states := make(eval.EntityStateMap)
	for entityID, v := range raw {
		switch val := v.(type) {
		case string:
			states[eval.InstanceKey{EntityID: entityID, InstanceID: eval.DefaultInstanceID}] = val
		case map[string]any:
			for instanceID, sv := range val {
				state, ok := sv.(string)
				if !ok {
					return nil, fmt.Errorf("%s: state for %s/%s must be a string", path, entityID, instanceID)
				}
				states[eval.InstanceKey{EntityID: entityID, InstanceID: instanceID}] = state
			}
		default:
			return nil, fmt.Errorf("%s: state for %s must be a string or object", path, entityID)
		}
	}
	return states, nil
}

func loadBindingsFile(path string) (eval.InstanceBindingMap, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	var bindings eval.InstanceBindingMap
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("%s: invalid bindings JSON: %w", path, err)
	}
	return bindings, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
