package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"

	"github.com/weisyn/zkcircuits/internal/engine"
)

// ============================================================================
//                            电路输入模式（Schema）
// ============================================================================
//
// 🎯 **设计目的**：
// 描述电路期望的具名、有类型、有顺序的输入槽位。槽位按公开在前、
// 私有在后的顺序排列，展开后的扁平布局与编译电路的见证布局一一
// 对应，证明方和验证方据此编码输入。
//
// ⚠️ **注意**：
// - 编码是严格的：缺槽、多槽、形状不符、超出域模数都会报错，
//   绝不静默截断
// - 模式随工件一起注册，是工件的组成部分
//
// ============================================================================

// SlotKind 槽位类型种类
type SlotKind string

const (
	// KindField 单个域元素
	KindField SlotKind = "field"
	// KindArray 定长数组
	KindArray SlotKind = "array"
	// KindStruct 具名成员的结构
	KindStruct SlotKind = "struct"
)

// Visibility 槽位可见性
type Visibility string

const (
	// Public 公开输入
	Public Visibility = "public"
	// Private 私有输入
	Private Visibility = "private"
)

// SlotType 槽位类型定义
type SlotType struct {
	Kind   SlotKind    `json:"kind"`
	Length int         `json:"length,omitempty"` // array长度
	Elem   *SlotType   `json:"elem,omitempty"`   // array元素类型
	Fields []SlotField `json:"fields,omitempty"` // struct成员，有序
}

// SlotField 结构成员
type SlotField struct {
	Name string   `json:"name"`
	Type SlotType `json:"type"`
}

// Slot 顶层输入槽位
type Slot struct {
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	Type       SlotType   `json:"type"`
}

// Schema 电路输入模式
type Schema struct {
	Slots []Slot `json:"slots"`
}

// ParseSchema 解析并校验JSON格式的电路模式
func ParseSchema(data []byte) (*Schema, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var schema Schema
	if err := decoder.Decode(&schema); err != nil {
		return nil, WrapMalformedArtifactError("", fmt.Sprintf("schema parse: %v", err))
	}
	if len(schema.Slots) == 0 {
		return nil, WrapMalformedArtifactError("", "schema has no slots")
	}

	seen := make(map[string]bool, len(schema.Slots))
	privateSeen := false
	for i := range schema.Slots {
		slot := &schema.Slots[i]
		if slot.Name == "" {
			return nil, WrapMalformedArtifactError("", fmt.Sprintf("slot %d has empty name", i))
		}
		if seen[slot.Name] {
			return nil, WrapMalformedArtifactError("", fmt.Sprintf("duplicate slot %q", slot.Name))
		}
		seen[slot.Name] = true

		switch slot.Visibility {
		case Public:
			if privateSeen {
				return nil, WrapMalformedArtifactError("", fmt.Sprintf("public slot %q after private slot", slot.Name))
			}
		case Private:
			privateSeen = true
		default:
			return nil, WrapMalformedArtifactError("", fmt.Sprintf("slot %q has invalid visibility %q", slot.Name, slot.Visibility))
		}

		if err := validateSlotType(&slot.Type, slot.Name); err != nil {
			return nil, err
		}
	}
	return &schema, nil
}

func validateSlotType(t *SlotType, path string) error {
	switch t.Kind {
	case KindField:
		if t.Length != 0 || t.Elem != nil || len(t.Fields) != 0 {
			return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: field type carries array/struct attributes", path))
		}
	case KindArray:
		if t.Length <= 0 {
			return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: array length must be positive", path))
		}
		if t.Elem == nil {
			return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: array missing element type", path))
		}
		return validateSlotType(t.Elem, path+"[]")
	case KindStruct:
		if len(t.Fields) == 0 {
			return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: struct has no fields", path))
		}
		names := make(map[string]bool, len(t.Fields))
		for i := range t.Fields {
			f := &t.Fields[i]
			if f.Name == "" {
				return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: struct field %d has empty name", path, i))
			}
			if names[f.Name] {
				return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: duplicate struct field %q", path, f.Name))
			}
			names[f.Name] = true
			if err := validateSlotType(&f.Type, path+"."+f.Name); err != nil {
				return err
			}
		}
	default:
		return WrapMalformedArtifactError("", fmt.Sprintf("slot %q: unknown kind %q", path, t.Kind))
	}
	return nil
}

// FlatCount 返回指定可见性槽位展开后的域元素数量
func (s *Schema) FlatCount(v Visibility) int {
	total := 0
	for i := range s.Slots {
		if s.Slots[i].Visibility == v {
			total += flatTypeCount(&s.Slots[i].Type)
		}
	}
	return total
}

func flatTypeCount(t *SlotType) int {
	switch t.Kind {
	case KindField:
		return 1
	case KindArray:
		return t.Length * flatTypeCount(t.Elem)
	case KindStruct:
		total := 0
		for i := range t.Fields {
			total += flatTypeCount(&t.Fields[i].Type)
		}
		return total
	}
	return 0
}

// EncodeInputs 将具名输入编码为扁平见证布局
//
// 形状检查是严格的：每个槽位必须恰好提供一次，不允许多余键，
// 所有标量必须是[0, r)内的整数（r为BN254标量域模数）。
func (s *Schema) EncodeInputs(values map[string]any) (*engine.EncodedWitness, error) {
	for name := range values {
		if !s.hasSlot(name) {
			return nil, WrapSchemaMismatchError(name, "not declared in schema")
		}
	}

	encoded := &engine.EncodedWitness{}
	for i := range s.Slots {
		slot := &s.Slots[i]
		value, ok := values[slot.Name]
		if !ok {
			return nil, WrapSchemaMismatchError(slot.Name, "missing input")
		}
		flat, err := encodeSlotValue(&slot.Type, value, slot.Name)
		if err != nil {
			return nil, err
		}
		if slot.Visibility == Public {
			encoded.Public = append(encoded.Public, flat...)
		} else {
			encoded.Private = append(encoded.Private, flat...)
		}
	}
	return encoded, nil
}

func (s *Schema) hasSlot(name string) bool {
	for i := range s.Slots {
		if s.Slots[i].Name == name {
			return true
		}
	}
	return false
}

func encodeSlotValue(t *SlotType, value any, path string) ([]*big.Int, error) {
	switch t.Kind {
	case KindField:
		fe, err := coerceFieldElement(value)
		if err != nil {
			return nil, WrapSchemaMismatchError(path, err.Error())
		}
		return []*big.Int{fe}, nil

	case KindArray:
		elems, err := coerceArray(value)
		if err != nil {
			return nil, WrapSchemaMismatchError(path, err.Error())
		}
		if len(elems) != t.Length {
			return nil, WrapSchemaMismatchError(path, fmt.Sprintf("array length: expected=%d, actual=%d", t.Length, len(elems)))
		}
		var flat []*big.Int
		for i, elem := range elems {
			part, err := encodeSlotValue(t.Elem, elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			flat = append(flat, part...)
		}
		return flat, nil

	case KindStruct:
		members, ok := value.(map[string]any)
		if !ok {
			return nil, WrapSchemaMismatchError(path, fmt.Sprintf("expected struct value, got %T", value))
		}
		for name := range members {
			if !structHasField(t, name) {
				return nil, WrapSchemaMismatchError(path+"."+name, "not declared in struct")
			}
		}
		var flat []*big.Int
		for i := range t.Fields {
			f := &t.Fields[i]
			member, ok := members[f.Name]
			if !ok {
				return nil, WrapSchemaMismatchError(path+"."+f.Name, "missing struct field")
			}
			part, err := encodeSlotValue(&f.Type, member, path+"."+f.Name)
			if err != nil {
				return nil, err
			}
			flat = append(flat, part...)
		}
		return flat, nil
	}
	return nil, WrapSchemaMismatchError(path, fmt.Sprintf("unknown kind %q", t.Kind))
}

func structHasField(t *SlotType, name string) bool {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return true
		}
	}
	return false
}

func coerceArray(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []*big.Int:
		elems := make([]any, len(v))
		for i, e := range v {
			elems[i] = e
		}
		return elems, nil
	case []uint64:
		elems := make([]any, len(v))
		for i, e := range v {
			elems[i] = e
		}
		return elems, nil
	default:
		return nil, fmt.Errorf("expected array value, got %T", value)
	}
}

func coerceFieldElement(value any) (*big.Int, error) {
	var fe *big.Int
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil field element")
		}
		fe = new(big.Int).Set(v)
	case big.Int:
		fe = new(big.Int).Set(&v)
	case uint64:
		fe = new(big.Int).SetUint64(v)
	case int:
		if v < 0 {
			return nil, fmt.Errorf("negative field element %d", v)
		}
		fe = big.NewInt(int64(v))
	default:
		return nil, fmt.Errorf("expected field element, got %T", value)
	}
	if fe.Sign() < 0 {
		return nil, fmt.Errorf("negative field element")
	}
	if fe.Cmp(ecc.BN254.ScalarField()) >= 0 {
		return nil, fmt.Errorf("field element exceeds BN254 scalar modulus")
	}
	return fe, nil
}
