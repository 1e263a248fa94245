// Package journal archives application frames received on realtime
// connections into PostgreSQL.
//
// Frames are recorded without blocking the socket read loop: Record pushes
// into a growable queue, a consumer accumulates batches and a flush loop
// writes them on an interval. Inserts use pgx.Batch with
// ON CONFLICT DO NOTHING, so replays of the same event id are counted as
// conflicts rather than failures.
package journal
