package message

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Method paths of the example service.
const (
	ExamplesService          = "example.Examples"
	SendExampleMessageMethod = "/example.Examples/SendExampleMessage"
	GetExampleMessagesMethod = "/example.Examples/GetExampleMessages"
)

// ProtoMessage is a plain Go value that converts to and from a protobuf
// message of a known descriptor.
type ProtoMessage interface {
	ProtoDescriptor() protoreflect.MessageDescriptor
	ToProto() proto.Message
	FromProto(m protoreflect.Message) error
}

// The schema is equivalent to:
//
//	syntax = "proto3";
//	package example;
//	message ExampleRequest { string message = 1; }
//	message ExampleResponse { string message = 1; }
//	service Examples {
//	  rpc SendExampleMessage(ExampleRequest) returns (ExampleResponse);
//	  rpc GetExampleMessages(ExampleRequest) returns (stream ExampleResponse);
//	}
var exampleFile = sync.OnceValue(func() protoreflect.FileDescriptor {
	stringField := func(name string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(1),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		}
	}
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("example.proto"),
		Package: proto.String("example"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("ExampleRequest"), Field: []*descriptorpb.FieldDescriptorProto{stringField("message")}},
			{Name: proto.String("ExampleResponse"), Field: []*descriptorpb.FieldDescriptorProto{stringField("message")}},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Examples"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("SendExampleMessage"),
					InputType:  proto.String(".example.ExampleRequest"),
					OutputType: proto.String(".example.ExampleResponse"),
				},
				{
					Name:            proto.String("GetExampleMessages"),
					InputType:       proto.String(".example.ExampleRequest"),
					OutputType:      proto.String(".example.ExampleResponse"),
					ServerStreaming: proto.Bool(true),
				},
			},
		}},
	}
	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}})
	if err != nil {
		panic(fmt.Sprintf("message: build example.proto: %v", err))
	}
	fd, err := files.FindFileByPath("example.proto")
	if err != nil {
		panic(fmt.Sprintf("message: find example.proto: %v", err))
	}
	return fd
})

// ExampleFile returns the descriptor of example.proto.
func ExampleFile() protoreflect.FileDescriptor { return exampleFile() }

func ExamplesServiceDescriptor() protoreflect.ServiceDescriptor {
	return exampleFile().Services().ByName("Examples")
}

func ExampleRequestDescriptor() protoreflect.MessageDescriptor {
	return exampleFile().Messages().ByName("ExampleRequest")
}

func ExampleResponseDescriptor() protoreflect.MessageDescriptor {
	return exampleFile().Messages().ByName("ExampleResponse")
}

// ExampleRequest is the request of both example methods.
type ExampleRequest struct {
	Message string `json:"message"`
}

func (r *ExampleRequest) ProtoDescriptor() protoreflect.MessageDescriptor {
	return ExampleRequestDescriptor()
}

func (r *ExampleRequest) ToProto() proto.Message {
	return messageWithText(ExampleRequestDescriptor(), r.Message)
}

func (r *ExampleRequest) FromProto(m protoreflect.Message) error {
	text, err := textOf(ExampleRequestDescriptor(), m)
	if err != nil {
		return err
	}
	r.Message = text
	return nil
}

// ExampleResponse is the response of both example methods.
type ExampleResponse struct {
	Message string `json:"message"`
}

func (r *ExampleResponse) ProtoDescriptor() protoreflect.MessageDescriptor {
	return ExampleResponseDescriptor()
}

func (r *ExampleResponse) ToProto() proto.Message {
	return messageWithText(ExampleResponseDescriptor(), r.Message)
}

func (r *ExampleResponse) FromProto(m protoreflect.Message) error {
	text, err := textOf(ExampleResponseDescriptor(), m)
	if err != nil {
		return err
	}
	r.Message = text
	return nil
}

func messageWithText(md protoreflect.MessageDescriptor, text string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(md)
	if text != "" {
		m.Set(md.Fields().ByName("message"), protoreflect.ValueOfString(text))
	}
	return m
}

func textOf(md protoreflect.MessageDescriptor, m protoreflect.Message) (string, error) {
	if got := m.Descriptor().FullName(); got != md.FullName() {
		return "", fmt.Errorf("message: expected %s, got %s", md.FullName(), got)
	}
	return m.Get(md.Fields().ByName("message")).String(), nil
}
