// Package command implements spec.md §6's numeric command codes and the
// typed payload encoding/decoding for each one, built on pkg/wire's
// framing primitives. Generalized from the teacher's kmsg-style typed
// request/response boundary (see broker.go) from a client encoder to a
// server decoder.
package command

// Code is a command_code from the 8-byte request header.
type Code uint32

// System commands.
const (
	Ping       Code = 1
	GetStats   Code = 10
	GetMe      Code = 20
	GetClient  Code = 21
	GetClients Code = 22
)

// User management commands.
const (
	GetUser           Code = 31
	GetUsers          Code = 32
	CreateUser        Code = 33
	DeleteUser        Code = 34
	UpdateUser        Code = 35
	UpdatePermissions Code = 36
	ChangePassword    Code = 37
	LoginUser         Code = 38
	LogoutUser        Code = 39
)

// Personal access token commands.
const (
	GetPersonalAccessTokens     Code = 41
	CreatePersonalAccessToken   Code = 42
	DeletePersonalAccessToken   Code = 43
	LoginWithPersonalAccessToken Code = 44
)

// Message commands.
const (
	SendMessages       Code = 100
	PollMessages       Code = 101
	FlushUnsavedBuffer Code = 102
)

// Consumer offset commands.
const (
	StoreConsumerOffset  Code = 110
	GetConsumerOffset    Code = 111
	DeleteConsumerOffset Code = 112
)

// Stream commands.
const (
	GetStream    Code = 200
	GetStreams   Code = 201
	CreateStream Code = 202
	DeleteStream Code = 203
	UpdateStream Code = 204
	PurgeStream  Code = 205
)

// Topic commands.
const (
	GetTopic    Code = 300
	GetTopics   Code = 301
	CreateTopic Code = 302
	DeleteTopic Code = 303
	UpdateTopic Code = 304
	PurgeTopic  Code = 305
)

// Partition commands.
const (
	CreatePartitions Code = 402
	DeletePartitions Code = 403
)

// Consumer group commands.
const (
	GetConsumerGroup    Code = 600
	GetConsumerGroups   Code = 601
	CreateConsumerGroup Code = 602
	DeleteConsumerGroup Code = 603
	JoinConsumerGroup   Code = 604
	LeaveConsumerGroup  Code = 605
)

// Name returns a human-readable label for logging, not part of the wire
// protocol.
func (c Code) Name() string {
	switch c {
	case Ping:
		return "Ping"
	case GetStats:
		return "GetStats"
	case GetMe:
		return "GetMe"
	case GetClient:
		return "GetClient"
	case GetClients:
		return "GetClients"
	case GetUser:
		return "GetUser"
	case GetUsers:
		return "GetUsers"
	case CreateUser:
		return "CreateUser"
	case DeleteUser:
		return "DeleteUser"
	case UpdateUser:
		return "UpdateUser"
	case UpdatePermissions:
		return "UpdatePermissions"
	case ChangePassword:
		return "ChangePassword"
	case LoginUser:
		return "LoginUser"
	case LogoutUser:
		return "LogoutUser"
	case GetPersonalAccessTokens:
		return "GetPersonalAccessTokens"
	case CreatePersonalAccessToken:
		return "CreatePersonalAccessToken"
	case DeletePersonalAccessToken:
		return "DeletePersonalAccessToken"
	case LoginWithPersonalAccessToken:
		return "LoginWithPersonalAccessToken"
	case SendMessages:
		return "SendMessages"
	case PollMessages:
		return "PollMessages"
	case FlushUnsavedBuffer:
		return "FlushUnsavedBuffer"
	case StoreConsumerOffset:
		return "StoreConsumerOffset"
	case GetConsumerOffset:
		return "GetConsumerOffset"
	case DeleteConsumerOffset:
		return "DeleteConsumerOffset"
	case GetStream:
		return "GetStream"
	case GetStreams:
		return "GetStreams"
	case CreateStream:
		return "CreateStream"
	case DeleteStream:
		return "DeleteStream"
	case UpdateStream:
		return "UpdateStream"
	case PurgeStream:
		return "PurgeStream"
	case GetTopic:
		return "GetTopic"
	case GetTopics:
		return "GetTopics"
	case CreateTopic:
		return "CreateTopic"
	case DeleteTopic:
		return "DeleteTopic"
	case UpdateTopic:
		return "UpdateTopic"
	case PurgeTopic:
		return "PurgeTopic"
	case CreatePartitions:
		return "CreatePartitions"
	case DeletePartitions:
		return "DeletePartitions"
	case GetConsumerGroup:
		return "GetConsumerGroup"
	case GetConsumerGroups:
		return "GetConsumerGroups"
	case CreateConsumerGroup:
		return "CreateConsumerGroup"
	case DeleteConsumerGroup:
		return "DeleteConsumerGroup"
	case JoinConsumerGroup:
		return "JoinConsumerGroup"
	case LeaveConsumerGroup:
		return "LeaveConsumerGroup"
	default:
		return "Unknown"
	}
}

// RequiresAuth reports whether the dispatcher must reject this command
// with Unauthenticated when the session has no authenticated user yet
// (spec.md §4.9 step 4). Ping and the login commands are the only ones
// reachable before authentication.
func (c Code) RequiresAuth() bool {
	switch c {
	case Ping, LoginUser, LoginWithPersonalAccessToken:
		return false
	default:
		return true
	}
}
