package processors

import (
	"encoding/binary"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/your-org/faceforge/internal/errs"
)

// ONNX protobuf field numbers needed to reach the trailing initializer.
const (
	fieldModelGraph       = 7 // ModelProto.graph
	fieldGraphInitializer = 5 // GraphProto.initializer
	fieldTensorDataType   = 2 // TensorProto.data_type
	fieldTensorFloatData  = 4 // TensorProto.float_data (packed)
	fieldTensorRawData    = 9 // TensorProto.raw_data
)

const (
	tensorTypeFloat   = 1
	tensorTypeFloat16 = 10
)

// extractLastInitializer walks the ONNX protobuf with protowire and
// returns the float contents of the graph's last initializer tensor. The
// swap model embeds its identity projection matrix there.
func extractLastInitializer(modelPath string) ([]float32, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errs.Wrap(errs.CodeModelFileMissing, err, "read model %s", modelPath)
	}

	graph, err := lastField(data, fieldModelGraph)
	if err != nil || graph == nil {
		return nil, errs.New(errs.CodeModelLoadFailed, "model %s has no graph", modelPath)
	}

	initializer, err := lastField(graph, fieldGraphInitializer)
	if err != nil || initializer == nil {
		return nil, errs.New(errs.CodeModelLoadFailed, "model %s has no initializers", modelPath)
	}

	floats, err := tensorFloats(initializer)
	if err != nil {
		return nil, errs.Wrap(errs.CodeModelLoadFailed, err, "decode initializer of %s", modelPath)
	}
	return floats, nil
}

// lastField scans a message and returns the payload of the last occurrence
// of a length-delimited field.
func lastField(msg []byte, field protowire.Number) ([]byte, error) {
	var out []byte
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]

		if num == field && typ == protowire.BytesType {
			payload, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			out = payload
			msg = msg[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]
	}
	return out, nil
}

// tensorFloats decodes a TensorProto's values from float_data or raw_data,
// converting from fp16 when the tensor declares that type.
func tensorFloats(tensor []byte) ([]float32, error) {
	var dataType uint64 = tensorTypeFloat
	var floatData []float32
	var rawData []byte

	msg := tensor
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]

		switch {
		case num == fieldTensorDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dataType = v
			msg = msg[n:]

		case num == fieldTensorFloatData && typ == protowire.BytesType:
			// Packed repeated float.
			payload, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			for i := 0; i+4 <= len(payload); i += 4 {
				bits := binary.LittleEndian.Uint32(payload[i:])
				floatData = append(floatData, math.Float32frombits(bits))
			}
			msg = msg[n:]

		case num == fieldTensorFloatData && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			floatData = append(floatData, math.Float32frombits(v))
			msg = msg[n:]

		case num == fieldTensorRawData && typ == protowire.BytesType:
			payload, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			rawData = payload
			msg = msg[n:]

		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
		}
	}

	if len(floatData) > 0 {
		return floatData, nil
	}

	switch dataType {
	case tensorTypeFloat:
		out := make([]float32, 0, len(rawData)/4)
		for i := 0; i+4 <= len(rawData); i += 4 {
			out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(rawData[i:])))
		}
		return out, nil
	case tensorTypeFloat16:
		out := make([]float32, 0, len(rawData)/2)
		for i := 0; i+2 <= len(rawData); i += 2 {
			out = append(out, float16ToFloat32(binary.LittleEndian.Uint16(rawData[i:])))
		}
		return out, nil
	}
	return nil, errs.New(errs.CodeModelVersionIncompatible, "initializer data type %d", dataType)
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	var bits uint32
	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			// Subnormal: normalise.
			e := uint32(127 - 15 + 1)
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3ff
			bits = sign<<31 | e<<23 | frac<<13
		}
	case 0x1f:
		bits = sign<<31 | 0xff<<23 | frac<<13
	default:
		bits = sign<<31 | (exp-15+127)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}
