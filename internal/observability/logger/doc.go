// Package logger expone un logger Zap singleton con scoping por contexto.
//
// Env "prod" usa el encoder JSON; cualquier otro valor usa consola con colores.
// El nivel se toma de log.level (o LOG_LEVEL).
//
// Inicialización en main:
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "aether"})
//	defer logger.Sync()
//
// En componentes de larga vida se fija un logger con nombre y campos base:
//
//	log := logger.Named("raft").With(logger.NodeID(id))
//	log.Info("became leader", logger.Term(term))
//
// En handlers HTTP:
//
//	logger.From(r.Context()).Warn("config update rejected", logger.Err(err))
package logger
