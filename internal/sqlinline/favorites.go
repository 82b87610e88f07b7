package sqlinline

const QInsertFavorite = `--sql 9c333fee-1db0-4330-b21a-3c32a0c8a648
insert into moda_favorites(user_id, task_id, note, tags, favorited_at)
values ($1::text, $2::bigint, nullif($3::text, ''), $4::text[], now())
returning id;
`

const QDeleteFavorite = `--sql fc793177-2381-472b-83f4-62287a2edfed
delete from moda_favorites
where user_id = $1::text and task_id = $2::bigint;
`

const QDeleteAllFavorites = `--sql 41b0a4f3-8c6a-4a0f-a6a4-40b3c43cbb0f
delete from moda_favorites
where user_id = $1::text;
`

const QListFavoriteTasksForUser = `--sql 7f9f6d7e-55cb-47d4-b2b0-f4aa05ba37f9
select` + taskColumns + `
from moda_favorites f
join moda_tasks t on t.id = f.task_id
where f.user_id = $1::text
order by f.favorited_at desc, f.id desc
limit $2::int offset $3::int;
`

const QFavoriteExists = `--sql 2b8f4f94-83a7-4a7e-a7a6-0b9d7d9f3c61
select exists (
  select 1 from moda_favorites
  where user_id = $1::text and task_id = $2::bigint
);
`
