// Package relay is the room-keyed websocket server scene sessions talk to
// each other through.
//
// Every client connects to /rooms/{id}, where id is the document id. A
// frame received from a client is forwarded verbatim to every other client
// in the same room. The relay never decodes frames, so it works with any
// codec the clients agree on.
//
// A single relay instance is enough for most deployments. To run several
// instances behind a load balancer, give each one the same Backplane:
//
//	client, err := relay.DialRedis(ctx, "localhost:6379")
//	if err != nil {
//	    // Handle error
//	}
//	srv := relay.NewServer(cfg, relay.NewRedisBackplane(client, cfg.RedisPrefix, log))
//	if err := srv.Run(ctx); err != nil {
//	    // Handle error
//	}
//
// Frames published by one instance are delivered to the room members held
// by every other instance.
package relay
