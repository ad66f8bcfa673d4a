package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Subject identifica al usuario autenticado (claim sub).
func Subject(v string) zap.Field { return zap.String("sub", v) }

// ─── Cluster ───

// NodeID identifica al nodo local.
func NodeID(v string) zap.Field { return zap.String("node_id", v) }

// Peer identifica al nodo remoto de un RPC.
func Peer(v string) zap.Field { return zap.String("peer", v) }

// Term es el término de consenso.
func Term(v uint64) zap.Field { return zap.Uint64("term", v) }

// Index es un índice del log replicado.
func Index(v uint64) zap.Field { return zap.Uint64("index", v) }

// Role es el rol del nodo (follower, candidate, leader).
func Role(v string) zap.Field { return zap.String("role", v) }

// Leader es el líder conocido.
func Leader(v string) zap.Field { return zap.String("leader", v) }

// ─── Configuración ───

// ConfigName es el nombre de la configuración versionada.
func ConfigName(v string) zap.Field { return zap.String("config", v) }

// Version es el número de versión de una configuración.
func Version(v uint64) zap.Field { return zap.Uint64("version", v) }

// SchemaID es el schema contra el que se valida un payload.
func SchemaID(v string) zap.Field { return zap.String("schema_id", v) }

// ProposalID es el id único de una propuesta.
func ProposalID(v string) zap.Field { return zap.String("proposal_id", v) }

// ─── Sistema ───

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// ─── Genéricos ───

func Count(v int) zap.Field             { return zap.Int("count", v) }
func Key(v string) zap.Field            { return zap.String("key", v) }
func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
