package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"paltabrain/sdk/internal/analytics/event"
)

const ContentType = "application/protobuf"

var ErrMalformed = errors.New("malformed batch")

type Batch struct {
	ID              string
	UploadTimestamp int64
	Events          []event.Event
}

const (
	batchID        protowire.Number = 1
	batchEvents    protowire.Number = 2
	batchUploadTS  protowire.Number = 3
	entryKey       protowire.Number = 1
	entryValue     protowire.Number = 2
	listItems      protowire.Number = 1
	mapEntries     protowire.Number = 1
	valueNull      protowire.Number = 1
	valueBool      protowire.Number = 2
	valueInt       protowire.Number = 3
	valueFloat     protowire.Number = 4
	valueString    protowire.Number = 5
	valueArray     protowire.Number = 6
	valueMap       protowire.Number = 7
	evType         protowire.Number = 1
	evProps        protowire.Number = 2
	evAPIProps     protowire.Number = 3
	evUserProps    protowire.Number = 4
	evGroups       protowire.Number = 5
	evGroupProps   protowire.Number = 6
	evSessionID    protowire.Number = 7
	evTimestamp    protowire.Number = 8
	evUserID       protowire.Number = 9
	evDeviceID     protowire.Number = 10
	evPlatform     protowire.Number = 11
	evAppVersion   protowire.Number = 12
	evOSName       protowire.Number = 13
	evOSVersion    protowire.Number = 14
	evDeviceModel  protowire.Number = 15
	evManufacturer protowire.Number = 16
	evCarrier      protowire.Number = 17
	evCountry      protowire.Number = 18
	evLanguage     protowire.Number = 19
	evTimezone     protowire.Number = 20
)

func Encode(batch Batch) []byte {
	var b []byte
	if batch.ID != "" {
		b = appendString(b, batchID, batch.ID)
	}
	for _, ev := range batch.Events {
		b = appendMessage(b, batchEvents, encodeEvent(ev))
	}
	if batch.UploadTimestamp != 0 {
		b = protowire.AppendTag(b, batchUploadTS, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(batch.UploadTimestamp))
	}
	return b
}

func encodeEvent(ev event.Event) []byte {
	var b []byte
	b = appendString(b, evType, ev.EventType)
	b = appendProperties(b, evProps, ev.EventProperties)
	b = appendProperties(b, evAPIProps, ev.APIProperties)
	b = appendProperties(b, evUserProps, ev.UserProperties)
	b = appendProperties(b, evGroups, ev.Groups)
	b = appendProperties(b, evGroupProps, ev.GroupProperties)
	b = protowire.AppendTag(b, evSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.SessionID))
	b = protowire.AppendTag(b, evTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.Timestamp))
	b = appendOptional(b, evUserID, ev.UserID)
	if ev.DeviceID != nil {
		b = appendString(b, evDeviceID, ev.DeviceID.String())
	}
	b = appendOptional(b, evPlatform, ev.Platform)
	b = appendOptional(b, evAppVersion, ev.AppVersion)
	b = appendOptional(b, evOSName, ev.OSName)
	b = appendOptional(b, evOSVersion, ev.OSVersion)
	b = appendOptional(b, evDeviceModel, ev.DeviceModel)
	b = appendOptional(b, evManufacturer, ev.DeviceManufacturer)
	b = appendOptional(b, evCarrier, ev.Carrier)
	b = appendOptional(b, evCountry, ev.Country)
	b = appendOptional(b, evLanguage, ev.Language)
	b = appendString(b, evTimezone, ev.Timezone)
	return b
}

func appendProperties(b []byte, num protowire.Number, props event.Properties) []byte {
	props.Range(func(key string, value event.Value) bool {
		b = appendMessage(b, num, encodeEntry(key, value))
		return true
	})
	return b
}

func encodeEntry(key string, value event.Value) []byte {
	var b []byte
	b = appendString(b, entryKey, key)
	b = appendMessage(b, entryValue, encodeValue(value))
	return b
}

func encodeValue(value event.Value) []byte {
	var b []byte
	switch value.Kind() {
	case event.KindBool:
		v, _ := value.AsBool()
		b = protowire.AppendTag(b, valueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v))
	case event.KindInt:
		v, _ := value.AsInt()
		b = protowire.AppendTag(b, valueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	case event.KindFloat:
		v, _ := value.AsFloat()
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	case event.KindString:
		v, _ := value.AsString()
		b = appendString(b, valueString, v)
	case event.KindArray:
		items, _ := value.AsArray()
		var list []byte
		for _, item := range items {
			list = appendMessage(list, listItems, encodeValue(item))
		}
		b = appendMessage(b, valueArray, list)
	case event.KindMap:
		props, _ := value.AsMap()
		b = appendMessage(b, valueMap, appendProperties(nil, mapEntries, props))
	default:
		b = protowire.AppendTag(b, valueNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func appendString(b []byte, num protowire.Number, value string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, value)
}

func appendOptional(b []byte, num protowire.Number, value *string) []byte {
	if value == nil {
		return b
	}
	return appendString(b, num, *value)
}

func appendMessage(b []byte, num protowire.Number, message []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, message)
}

func Decode(data []byte) (Batch, error) {
	var batch Batch
	err := walk(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == batchID && typ == protowire.BytesType:
			batch.ID = string(field)
		case num == batchEvents && typ == protowire.BytesType:
			ev, err := decodeEvent(field)
			if err != nil {
				return err
			}
			batch.Events = append(batch.Events, ev)
		case num == batchUploadTS && typ == protowire.VarintType:
			v, err := varint(field)
			if err != nil {
				return err
			}
			batch.UploadTimestamp = int64(v)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func decodeEvent(data []byte) (event.Event, error) {
	var ev event.Event
	err := walk(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if typ == protowire.VarintType {
			v, err := varint(field)
			if err != nil {
				return err
			}
			switch num {
			case evSessionID:
				ev.SessionID = int64(v)
			case evTimestamp:
				ev.Timestamp = int64(v)
			}
			return nil
		}
		if typ != protowire.BytesType {
			return nil
		}

		switch num {
		case evType:
			ev.EventType = string(field)
		case evProps:
			return decodeEntryInto(&ev.EventProperties, field)
		case evAPIProps:
			return decodeEntryInto(&ev.APIProperties, field)
		case evUserProps:
			return decodeEntryInto(&ev.UserProperties, field)
		case evGroups:
			return decodeEntryInto(&ev.Groups, field)
		case evGroupProps:
			return decodeEntryInto(&ev.GroupProperties, field)
		case evUserID:
			ev.UserID = stringPtr(field)
		case evDeviceID:
			parsed, err := uuid.ParseBytes(field)
			if err != nil {
				return fmt.Errorf("%w: device id: %v", ErrMalformed, err)
			}
			ev.DeviceID = &parsed
		case evPlatform:
			ev.Platform = stringPtr(field)
		case evAppVersion:
			ev.AppVersion = stringPtr(field)
		case evOSName:
			ev.OSName = stringPtr(field)
		case evOSVersion:
			ev.OSVersion = stringPtr(field)
		case evDeviceModel:
			ev.DeviceModel = stringPtr(field)
		case evManufacturer:
			ev.DeviceManufacturer = stringPtr(field)
		case evCarrier:
			ev.Carrier = stringPtr(field)
		case evCountry:
			ev.Country = stringPtr(field)
		case evLanguage:
			ev.Language = stringPtr(field)
		case evTimezone:
			ev.Timezone = string(field)
		}
		return nil
	})
	return ev, err
}

func decodeEntryInto(props *event.Properties, data []byte) error {
	var key string
	value := event.Null()
	err := walk(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case entryKey:
			key = string(field)
		case entryValue:
			decoded, err := decodeValue(field)
			if err != nil {
				return err
			}
			value = decoded
		}
		return nil
	})
	if err != nil {
		return err
	}
	props.Set(key, value)
	return nil
}

func decodeValue(data []byte) (event.Value, error) {
	value := event.Null()
	err := walk(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == valueBool && typ == protowire.VarintType:
			v, err := varint(field)
			if err != nil {
				return err
			}
			value = event.Bool(protowire.DecodeBool(v))
		case num == valueInt && typ == protowire.VarintType:
			v, err := varint(field)
			if err != nil {
				return err
			}
			value = event.Int(protowire.DecodeZigZag(v))
		case num == valueFloat && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(field)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			value = event.Float(math.Float64frombits(v))
		case num == valueString && typ == protowire.BytesType:
			value = event.String(string(field))
		case num == valueArray && typ == protowire.BytesType:
			var items []event.Value
			err := walk(field, func(itemNum protowire.Number, itemTyp protowire.Type, itemField []byte) error {
				if itemNum != listItems || itemTyp != protowire.BytesType {
					return nil
				}
				item, err := decodeValue(itemField)
				if err != nil {
					return err
				}
				items = append(items, item)
				return nil
			})
			if err != nil {
				return err
			}
			value = event.Array(items...)
		case num == valueMap && typ == protowire.BytesType:
			var props event.Properties
			err := walk(field, func(entryNum protowire.Number, entryTyp protowire.Type, entryField []byte) error {
				if entryNum != mapEntries || entryTyp != protowire.BytesType {
					return nil
				}
				return decodeEntryInto(&props, entryField)
			})
			if err != nil {
				return err
			}
			value = event.Map(props)
		case num == valueNull:
			value = event.Null()
		}
		return nil
	})
	return value, err
}

// walk calls fn for every field in a message. For length-delimited fields
// field holds the payload; for other wire types it holds the raw value bytes.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, field []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		var field []byte
		if typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			field = payload
			n = m
		} else {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			field = data[:m]
			n = m
		}
		data = data[n:]

		if err := fn(num, typ, field); err != nil {
			return err
		}
	}
	return nil
}

func varint(field []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(field)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, nil
}

func stringPtr(field []byte) *string {
	value := string(field)
	return &value
}
