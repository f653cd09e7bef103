// Package pb defines the lidarviz.v1 viewer protocol. The schema is built at
// init as a FileDescriptorProto and messages are handled with dynamicpb, so
// the package needs no generated code.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	// ServiceName is the fully qualified viewer service name.
	ServiceName = "lidarviz.v1.Viewer"

	StreamFramesMethod = "/" + ServiceName + "/StreamFrames"
	ControlMethod      = "/" + ServiceName + "/Control"
	GetStatusMethod    = "/" + ServiceName + "/GetStatus"
)

var (
	file protoreflect.FileDescriptor

	frameDesc          protoreflect.MessageDescriptor
	streamRequestDesc  protoreflect.MessageDescriptor
	controlRequestDesc protoreflect.MessageDescriptor
	statusRequestDesc  protoreflect.MessageDescriptor
	playbackStatusDesc protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(fileProto(), nil)
	if err != nil {
		panic(fmt.Sprintf("pb: invalid viewer schema: %v", err))
	}
	file = fd
	msgs := fd.Messages()
	frameDesc = msgs.ByName("Frame")
	streamRequestDesc = msgs.ByName("StreamRequest")
	controlRequestDesc = msgs.ByName("ControlRequest")
	statusRequestDesc = msgs.ByName("StatusRequest")
	playbackStatusDesc = msgs.ByName("PlaybackStatus")
}

// File returns the viewer schema.
func File() protoreflect.FileDescriptor { return file }

// FileProto returns a copy of the schema as a FileDescriptorProto, suitable
// for writing a .protoset for external viewers.
func FileProto() *descriptorpb.FileDescriptorProto {
	return protodesc.ToFileDescriptorProto(file)
}

type fieldSpec struct {
	name     string
	number   int32
	kind     descriptorpb.FieldDescriptorProto_Type
	repeated bool
}

func message(name string, fields ...fieldSpec) *descriptorpb.DescriptorProto {
	msg := &descriptorpb.DescriptorProto{Name: &name}
	for _, f := range fields {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if f.repeated {
			label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		fd := &descriptorpb.FieldDescriptorProto{
			Name:     ptr(f.name),
			Number:   ptr(f.number),
			Label:    label.Enum(),
			Type:     f.kind.Enum(),
			JsonName: ptr(jsonName(f.name)),
		}
		msg.Field = append(msg.Field, fd)
	}
	return msg
}

func method(name, in, out string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       ptr(name),
		InputType:  ptr(".lidarviz.v1." + in),
		OutputType: ptr(".lidarviz.v1." + out),
	}
	if serverStreaming {
		m.ServerStreaming = ptr(true)
	}
	return m
}

func fileProto() *descriptorpb.FileDescriptorProto {
	const (
		i32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
		i64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
		f32   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		str   = descriptorpb.FieldDescriptorProto_TYPE_STRING
		bytes = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		boolT = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    ptr("lidarviz/v1/viewer.proto"),
		Package: ptr("lidarviz.v1"),
		Syntax:  ptr("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: ptr("github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Frame",
				fieldSpec{"index", 1, i64, false},
				fieldSpec{"timestamp_ns", 2, i64, false},
				fieldSpec{"total_frames", 3, i64, false},
				fieldSpec{"x", 4, f32, true},
				fieldSpec{"y", 5, f32, true},
				fieldSpec{"z", 6, f32, true},
				fieldSpec{"rgb", 7, bytes, false},
				fieldSpec{"reset_view", 8, boolT, false},
				fieldSpec{"background", 9, str, false},
				fieldSpec{"paused", 10, boolT, false},
				fieldSpec{"source", 11, str, false},
				fieldSpec{"intensity", 12, f32, true},
				fieldSpec{"progress", 13, i64, false},
			),
			message("StreamRequest",
				fieldSpec{"client_name", 1, str, false},
				fieldSpec{"decimation_ratio", 2, f32, false},
			),
			message("ControlRequest",
				fieldSpec{"command", 1, str, false},
				fieldSpec{"frame", 2, i64, false},
				fieldSpec{"background", 3, str, false},
			),
			message("StatusRequest"),
			message("PlaybackStatus",
				fieldSpec{"index", 1, i64, false},
				fieldSpec{"start", 2, i64, false},
				fieldSpec{"stop", 3, i64, false},
				fieldSpec{"total", 4, i64, false},
				fieldSpec{"progress", 5, i64, false},
				fieldSpec{"playing", 6, boolT, false},
				fieldSpec{"background", 7, str, false},
				fieldSpec{"clients", 8, i32, false},
				fieldSpec{"point_size", 9, f32, false},
				fieldSpec{"window_width", 10, i32, false},
				fieldSpec{"window_height", 11, i32, false},
				fieldSpec{"loader", 12, str, false},
				fieldSpec{"source", 13, str, false},
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: ptr("Viewer"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("StreamFrames", "StreamRequest", "Frame", true),
				method("Control", "ControlRequest", "PlaybackStatus", false),
				method("GetStatus", "StatusRequest", "PlaybackStatus", false),
			},
		}},
	}
}

func jsonName(s string) string {
	out := make([]byte, 0, len(s))
	upper := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

func ptr[T any](v T) *T { return &v }
