package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rcliao/aangan/internal/model"
	"github.com/rcliao/aangan/internal/store"
)

// QdrantIndex implements Index using Qdrant. Whisper ULIDs map one-to-one
// onto UUID point ids; zone and emotion are stored as payload for filtering.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrant connects to Qdrant and creates the collection if it is missing.
func NewQdrant(ctx context.Context, host string, port int, collection string, dims int) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	idx := &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := idx.ensureCollection(ctx, dims); err != nil {
		conn.Close()
		return nil, err
	}
	return idx, nil
}

func (r *QdrantIndex) ensureCollection(ctx context.Context, dims int) error {
	resp, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: r.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dims),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

func (r *QdrantIndex) Upsert(ctx context.Context, w model.Whisper, vector []float32) error {
	id, err := PointID(w.ID)
	if err != nil {
		return err
	}
	payload := map[string]*pb.Value{
		"whisper_id": {Kind: &pb.Value_StringValue{StringValue: w.ID}},
		"zone":       {Kind: &pb.Value_StringValue{StringValue: w.Zone}},
		"emotion":    {Kind: &pb.Value_StringValue{StringValue: w.Emotion}},
	}
	wait := true
	_, err = r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			Payload: payload,
		}},
	})
	return err
}

func (r *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, f store.Filter) ([]string, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         qdrantFilter(f),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Result))
	for _, pt := range resp.Result {
		id, err := WhisperID(pt.Id.GetUuid())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *QdrantIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*pb.PointId, 0, len(ids))
	for _, id := range ids {
		u, err := PointID(id)
		if err != nil {
			return err
		}
		pids = append(pids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u}})
	}
	wait := true
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: pids},
		}},
	})
	return err
}

func (r *QdrantIndex) Close() error {
	return r.conn.Close()
}

// PointID converts a whisper ULID to the UUID string used as its point id.
func PointID(whisperID string) (string, error) {
	u, err := ulid.ParseStrict(whisperID)
	if err != nil {
		return "", fmt.Errorf("whisper id %q: %w", whisperID, store.ErrValidation)
	}
	return uuid.UUID(u).String(), nil
}

// WhisperID is the inverse of PointID.
func WhisperID(pointID string) (string, error) {
	u, err := uuid.Parse(pointID)
	if err != nil {
		return "", err
	}
	return ulid.ULID(u).String(), nil
}

func qdrantFilter(f store.Filter) *pb.Filter {
	var must []*pb.Condition
	for key, v := range map[string]string{"zone": f.Zone, "emotion": f.Emotion} {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   key,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
		}}})
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

var _ Index = (*QdrantIndex)(nil)
