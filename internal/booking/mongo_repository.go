package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	providersCollection = "providers"
	customersCollection = "customers"
	slotsCollection     = "slots"
	bookingsCollection  = "bookings"
	eventLogsCollection = "event_logs"
)

// MongoRepository stores the same model as PgRepository in MongoDB. WithTx
// needs a replica set; ids are stored as UUID strings.
type MongoRepository struct {
	client    *mongo.Client
	providers *mongo.Collection
	customers *mongo.Collection
	slots     *mongo.Collection
	bookings  *mongo.Collection
	eventLogs *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	db := client.Database(database)
	return &MongoRepository{
		client:    client,
		providers: db.Collection(providersCollection),
		customers: db.Collection(customersCollection),
		slots:     db.Collection(slotsCollection),
		bookings:  db.Collection(bookingsCollection),
		eventLogs: db.Collection(eventLogsCollection),
	}
}

var (
	slotIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "service_date", Value: 1}, {Key: "start_time", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	providerIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "service_type", Value: 1}, {Key: "rating", Value: -1}, {Key: "total_bookings", Value: -1}}},
	}

	customerIndexes = []mongo.IndexModel{
		{
			// Only customers booking with contact details carry an email.
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("customers_email").
				SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}}),
		},
	}

	bookingIndexes = []mongo.IndexModel{
		{
			// A cancelled booking frees its slot; partial filters cannot use
			// $ne, so the live statuses are listed.
			Keys: bson.D{{Key: "slot_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("bookings_live_slot").
				SetPartialFilterExpression(bson.M{"status": bson.M{"$in": bson.A{
					string(StatusPending), string(StatusConfirmed), string(StatusCompleted),
				}}}),
		},
		{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "service_date", Value: 1}}},
	}
)

// EnsureIndexes creates the indexes the repository relies on for slot and
// customer uniqueness and its list queries.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.providers.Indexes().CreateMany(ctx, providerIndexes); err != nil {
		return fmt.Errorf("create provider indexes: %w", err)
	}
	if _, err := r.customers.Indexes().CreateMany(ctx, customerIndexes); err != nil {
		return fmt.Errorf("create customer indexes: %w", err)
	}
	if _, err := r.slots.Indexes().CreateMany(ctx, slotIndexes); err != nil {
		return fmt.Errorf("create slot indexes: %w", err)
	}
	if _, err := r.bookings.Indexes().CreateMany(ctx, bookingIndexes); err != nil {
		return fmt.Errorf("create booking indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	// WithTransaction retries fn on transient write conflicts, so a losing
	// claim re-reads the slot and reports it unavailable.
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	})
	return err
}

// Documents

type providerDoc struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	ServiceType   string    `bson:"service_type"`
	City          string    `bson:"city"`
	Area          string    `bson:"area"`
	Rating        float64   `bson:"rating"`
	HourlyRate    int64     `bson:"hourly_rate"`
	IsActive      bool      `bson:"is_active"`
	TotalBookings int       `bson:"total_bookings"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type customerDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     *string   `bson:"email,omitempty"`
	Phone     *string   `bson:"phone,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type slotDoc struct {
	ID              string    `bson:"_id"`
	ProviderID      string    `bson:"provider_id"`
	Date            time.Time `bson:"service_date"`
	StartTime       string    `bson:"start_time"`
	EndTime         string    `bson:"end_time"`
	DurationMinutes int       `bson:"duration_minutes"`
	Price           int64     `bson:"price"`
	IsAvailable     bool      `bson:"is_available"`
	IsBooked        bool      `bson:"is_booked"`
	BookingID       *string   `bson:"booking_id"`
	Version         int64     `bson:"version"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

type bookingDoc struct {
	ID                 string     `bson:"_id"`
	CustomerID         string     `bson:"customer_id"`
	ProviderID         string     `bson:"provider_id"`
	SlotID             string     `bson:"slot_id"`
	Status             string     `bson:"status"`
	PaymentStatus      string     `bson:"payment_status"`
	TotalAmount        int64      `bson:"total_amount"`
	ServiceDate        time.Time  `bson:"service_date"`
	StartTime          string     `bson:"start_time"`
	EndTime            string     `bson:"end_time"`
	DurationMinutes    int        `bson:"duration_minutes"`
	Notes              string     `bson:"notes"`
	CancellationReason *string    `bson:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
	CancelledAt        *time.Time `bson:"cancelled_at,omitempty"`
	CompletedAt        *time.Time `bson:"completed_at,omitempty"`
}

type eventLogDoc struct {
	EventType string    `bson:"event_type"`
	BookingID *string   `bson:"booking_id,omitempty"`
	SlotID    *string   `bson:"slot_id,omitempty"`
	Payload   string    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d providerDoc) toProvider() (*Provider, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("provider id %q: %w", d.ID, err)
	}
	return &Provider{
		ID:            id,
		Name:          d.Name,
		ServiceType:   d.ServiceType,
		City:          d.City,
		Area:          d.Area,
		Rating:        d.Rating,
		HourlyRate:    d.HourlyRate,
		IsActive:      d.IsActive,
		TotalBookings: d.TotalBookings,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

func (d customerDoc) toCustomer() (*Customer, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("customer id %q: %w", d.ID, err)
	}
	return &Customer{
		ID:        id,
		Name:      d.Name,
		Email:     d.Email,
		Phone:     d.Phone,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func (d slotDoc) toSlot() (*Slot, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("slot id %q: %w", d.ID, err)
	}
	providerID, err := uuid.Parse(d.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("slot %s provider id: %w", d.ID, err)
	}
	s := &Slot{
		ID:              id,
		ProviderID:      providerID,
		Date:            d.Date.UTC(),
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		DurationMinutes: d.DurationMinutes,
		Price:           d.Price,
		IsAvailable:     d.IsAvailable,
		IsBooked:        d.IsBooked,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.BookingID != nil {
		bid, err := uuid.Parse(*d.BookingID)
		if err != nil {
			return nil, fmt.Errorf("slot %s booking id: %w", d.ID, err)
		}
		s.BookingID = &bid
	}
	return s, nil
}

func newBookingDoc(b Booking) bookingDoc {
	return bookingDoc{
		ID:                 b.ID.String(),
		CustomerID:         b.CustomerID.String(),
		ProviderID:         b.ProviderID.String(),
		SlotID:             b.SlotID.String(),
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		TotalAmount:        b.TotalAmount,
		ServiceDate:        b.ServiceDate,
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		DurationMinutes:    b.DurationMinutes,
		Notes:              b.Notes,
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
	}
}

func (d bookingDoc) toBooking() (*Booking, error) {
	var ids [4]uuid.UUID
	for i, raw := range []string{d.ID, d.CustomerID, d.ProviderID, d.SlotID} {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("booking %s: bad id %q: %w", d.ID, raw, err)
		}
		ids[i] = id
	}
	return &Booking{
		ID:                 ids[0],
		CustomerID:         ids[1],
		ProviderID:         ids[2],
		SlotID:             ids[3],
		Status:             Status(d.Status),
		PaymentStatus:      PaymentStatus(d.PaymentStatus),
		TotalAmount:        d.TotalAmount,
		ServiceDate:        d.ServiceDate.UTC(),
		StartTime:          d.StartTime,
		EndTime:            d.EndTime,
		DurationMinutes:    d.DurationMinutes,
		Notes:              d.Notes,
		CancellationReason: d.CancellationReason,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		CancelledAt:        d.CancelledAt,
		CompletedAt:        d.CompletedAt,
	}, nil
}

// Providers and customers

func (r *MongoRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var d providerDoc
	if err := r.providers.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return d.toProvider()
}

func (r *MongoRepository) ListProviders(ctx context.Context, f ProviderFilter) ([]Provider, error) {
	f = f.Normalize()

	filter := bson.M{"is_active": true}
	if f.ServiceType != "" {
		filter["service_type"] = f.ServiceType
	}
	if f.City != "" {
		filter["city"] = bson.M{"$regex": regexp.QuoteMeta(f.City), "$options": "i"}
	}
	if f.Area != "" {
		filter["area"] = bson.M{"$regex": regexp.QuoteMeta(f.Area), "$options": "i"}
	}
	if f.MinRating > 0 {
		filter["rating"] = bson.M{"$gte": f.MinRating}
	}
	if f.MaxHourlyRate > 0 {
		filter["hourly_rate"] = bson.M{"$lte": f.MaxHourlyRate}
	}

	cur, err := r.providers.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "total_bookings", Value: -1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(f.Limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer cur.Close(ctx)

	var docs []providerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}

	result := make([]Provider, 0, len(docs))
	for _, d := range docs {
		p, err := d.toProvider()
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, nil
}

func (r *MongoRepository) ListServiceTypes(ctx context.Context) ([]string, error) {
	raw, err := r.providers.Distinct(ctx, "service_type", bson.M{"is_active": true})
	if err != nil {
		return nil, fmt.Errorf("list service types: %w", err)
	}

	types := make([]string, 0, len(raw))
	for _, v := range raw {
		if st, ok := v.(string); ok && st != "" {
			types = append(types, st)
		}
	}
	sort.Strings(types)
	return types, nil
}

func (r *MongoRepository) IncrementProviderBookings(ctx context.Context, providerID uuid.UUID, at time.Time) error {
	res, err := r.providers.UpdateOne(ctx,
		bson.M{"_id": providerID.String()},
		bson.M{
			"$inc": bson.M{"total_bookings": 1},
			"$set": bson.M{"updated_at": at},
		},
	)
	if err != nil {
		return fmt.Errorf("increment provider bookings: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *MongoRepository) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	var d customerDoc
	if err := r.customers.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return d.toCustomer()
}

// UpsertCustomerByEmail relies on the unique email index. Two first-time
// upserts racing on one address can both miss and insert; the loser sees a
// duplicate key error and retries as an update.
func (r *MongoRepository) UpsertCustomerByEmail(ctx context.Context, c Customer) (*Customer, error) {
	if c.Email == nil {
		return nil, fmt.Errorf("upsert customer: email is required")
	}

	set := bson.M{"name": c.Name, "updated_at": c.UpdatedAt}
	if c.Phone != nil {
		set["phone"] = *c.Phone
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": c.ID.String(), "created_at": c.UpdatedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var d customerDoc
	err := r.customers.FindOneAndUpdate(ctx, bson.M{"email": *c.Email}, update, opts).Decode(&d)
	if mongo.IsDuplicateKeyError(err) {
		err = r.customers.FindOneAndUpdate(ctx, bson.M{"email": *c.Email}, update, opts).Decode(&d)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return d.toCustomer()
}

// Slots

func (r *MongoRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var d slotDoc
	if err := r.slots.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return d.toSlot()
}

// GetSlotForUpdate bumps the slot's version so a concurrent transaction that
// touches the same slot hits a write conflict instead of reading stale flags.
func (r *MongoRepository) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var d slotDoc
	err := r.slots.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot for update: %w", err)
	}
	return d.toSlot()
}

func (r *MongoRepository) MarkSlotBooked(ctx context.Context, slotID, bookingID uuid.UUID, at time.Time) error {
	res, err := r.slots.UpdateOne(ctx,
		bson.M{"_id": slotID.String(), "is_available": true, "is_booked": false},
		bson.M{"$set": bson.M{
			"is_available": false,
			"is_booked":    true,
			"booking_id":   bookingID.String(),
			"updated_at":   at,
		}},
	)
	if err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *MongoRepository) ReleaseSlot(ctx context.Context, slotID, bookingID uuid.UUID, at time.Time) error {
	res, err := r.slots.UpdateOne(ctx,
		bson.M{"_id": slotID.String(), "booking_id": bookingID.String()},
		bson.M{"$set": bson.M{
			"is_available": true,
			"is_booked":    false,
			"booking_id":   nil,
			"updated_at":   at,
		}},
	)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *MongoRepository) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error) {
	cur, err := r.slots.Find(ctx,
		bson.M{
			"provider_id":  providerID.String(),
			"service_date": date,
			"is_available": true,
			"is_booked":    false,
		},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer cur.Close(ctx)

	var docs []slotDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}

	result := make([]Slot, 0, len(docs))
	for _, d := range docs {
		s, err := d.toSlot()
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, nil
}

// Bookings

func (r *MongoRepository) CreateBooking(ctx context.Context, b Booking) error {
	if _, err := r.bookings.InsertOne(ctx, newBookingDoc(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var d bookingDoc
	if err := r.bookings.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return d.toBooking()
}

// GetBookingForUpdate reads the booking inside the session. The conditional
// status update that follows is what rejects a concurrent cancel.
func (r *MongoRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.GetBookingByID(ctx, id)
}

func (r *MongoRepository) MarkBookingCancelled(ctx context.Context, id uuid.UUID, reason *string, at time.Time) (*Booking, error) {
	set := bson.M{
		"status":         string(StatusCancelled),
		"payment_status": string(PaymentRefunded),
		"cancelled_at":   at,
		"updated_at":     at,
	}
	if reason != nil {
		set["cancellation_reason"] = *reason
	}

	return r.updateBooking(ctx,
		bson.M{"_id": id.String(), "status": bson.M{"$in": bson.A{string(StatusPending), string(StatusConfirmed)}}},
		bson.M{"$set": set},
	)
}

func (r *MongoRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Booking, error) {
	set := bson.M{"status": string(to), "updated_at": at}
	if to == StatusCompleted {
		set["completed_at"] = at
	}
	return r.updateBooking(ctx,
		bson.M{"_id": id.String(), "status": string(from)},
		bson.M{"$set": set},
	)
}

func (r *MongoRepository) updateBooking(ctx context.Context, filter, update bson.M) (*Booking, error) {
	var d bookingDoc
	err := r.bookings.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update booking: %w", err)
	}
	return d.toBooking()
}

func (r *MongoRepository) ListBookingsByCustomer(ctx context.Context, customerID uuid.UUID, opts ListOptions) ([]Booking, error) {
	return r.findBookings(ctx,
		bson.M{"customer_id": customerID.String()},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(opts.Limit)).
			SetSkip(int64(opts.Offset)),
	)
}

func (r *MongoRepository) FindConfirmedThrough(ctx context.Context, date time.Time) ([]Booking, error) {
	y, m, d := date.Date()
	return r.findBookings(ctx,
		bson.M{
			"status":       string(StatusConfirmed),
			"service_date": bson.M{"$lte": time.Date(y, m, d, 0, 0, 0, 0, time.UTC)},
		},
		options.Find().SetSort(bson.D{{Key: "service_date", Value: 1}, {Key: "end_time", Value: 1}}),
	)
}

func (r *MongoRepository) findBookings(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Booking, error) {
	cur, err := r.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer cur.Close(ctx)

	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}

	result := make([]Booking, 0, len(docs))
	for _, d := range docs {
		b, err := d.toBooking()
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, nil
}

// Event logging

func (r *MongoRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	doc := eventLogDoc{
		EventType: ev.EventType,
		Payload:   string(ev.Payload),
		CreatedAt: ev.CreatedAt,
	}
	if ev.BookingID != nil {
		s := ev.BookingID.String()
		doc.BookingID = &s
	}
	if ev.SlotID != nil {
		s := ev.SlotID.String()
		doc.SlotID = &s
	}

	if _, err := r.eventLogs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
